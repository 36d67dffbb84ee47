package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"quill/internal/pipeline"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.English)

func renderStatus(status pipeline.Status, stale bool, colorize bool) string {
	if status == "" {
		return "-"
	}
	label := titleCaser.String(string(status))
	if stale {
		label += " (stale)"
	}
	if !colorize {
		return label
	}
	switch {
	case stale:
		return ansiYellow + label + ansiReset
	case status == pipeline.StatusCompleted:
		return ansiGreen + label + ansiReset
	case status == pipeline.StatusFailed:
		return ansiRed + label + ansiReset
	case status == pipeline.StatusProcessing:
		return ansiBlue + label + ansiReset
	default:
		return label
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
