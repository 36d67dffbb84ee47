package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quill/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Workflow.PollInterval != 2 || cfg.Workflow.PollBudget != 300 {
		t.Fatalf("poll timing = %d/%d", cfg.Workflow.PollInterval, cfg.Workflow.PollBudget)
	}
	if cfg.Scribe.Mode != "http" {
		t.Fatalf("mode = %q", cfg.Scribe.Mode)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"

[scribe]
mode = "OpenAI"
api_key = "  key-1  "
model = "gpt-test"

[workflow]
poll_interval = 5
poll_budget = 60
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Scribe.Mode != "openai" || cfg.Scribe.APIKey != "key-1" {
		t.Fatalf("scribe = %+v", cfg.Scribe)
	}
	if cfg.Workflow.PollInterval != 5 || cfg.Workflow.PollBudget != 60 {
		t.Fatalf("workflow = %+v", cfg.Workflow)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("missing file reported as existing")
	}
	if cfg.Workflow.PollInterval != 2 {
		t.Fatalf("poll interval = %d, want default", cfg.Workflow.PollInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad mode", func(c *config.Config) { c.Scribe.Mode = "grpc" }, "scribe.mode"},
		{"zero interval", func(c *config.Config) { c.Workflow.PollInterval = 0 }, "poll_interval"},
		{"budget below interval", func(c *config.Config) { c.Workflow.PollBudget = 1 }, "poll_budget"},
		{"negative debounce", func(c *config.Config) { c.Workflow.SaveDebounceMillis = -1 }, "save_debounce_ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config unreadable: exists=%v err=%v", exists, err)
	}
}
