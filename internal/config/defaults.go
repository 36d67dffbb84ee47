package config

const (
	defaultDataDir            = "~/.local/share/quill/data"
	defaultLogDir             = "~/.local/share/quill/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultScribeMode         = "http"
	defaultScribeBaseURL      = "http://127.0.0.1:8787"
	defaultScribeModel        = "quill-writer-1"
	defaultScribeTimeout      = 15
	defaultPollInterval       = 2
	defaultPollBudget         = 300
	defaultSaveDebounceMillis = 750
	defaultNotifyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Scribe: Scribe{
			Mode:           defaultScribeMode,
			BaseURL:        defaultScribeBaseURL,
			Model:          defaultScribeModel,
			TimeoutSeconds: defaultScribeTimeout,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			PollBudget:         defaultPollBudget,
			SaveDebounceMillis: defaultSaveDebounceMillis,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Stages:         true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
