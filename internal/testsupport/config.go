package testsupport

import (
	"path/filepath"
	"testing"

	"quill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Scribe.BaseURL = "http://127.0.0.1:0"
	cfg.Scribe.APIKey = "test"
	cfg.Scribe.Model = "test-model"
	cfg.Workflow.SaveDebounceMillis = 10

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithScribeMode sets the generation backend mode on the test config.
func WithScribeMode(mode string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Scribe.Mode = mode
	}
}

// WithPollTiming sets the poll interval and budget in seconds.
func WithPollTiming(interval, budget int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.PollInterval = interval
		cfg.Workflow.PollBudget = budget
	}
}
