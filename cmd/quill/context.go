package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/notifications"
	"quill/internal/services/scribe"
	"quill/internal/store"
	"quill/internal/worker"
	"quill/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.loggerOnce.Do(func() {
		logger, logErr := logging.NewFromConfig(cfg)
		if logErr != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger, nil
}

func (c *commandContext) buildRunner(cfg *config.Config, logger *slog.Logger) (*worker.Client, error) {
	scribeCfg := scribe.Config{
		BaseURL:        cfg.Scribe.BaseURL,
		APIKey:         cfg.Scribe.APIKey,
		Model:          cfg.Scribe.Model,
		TimeoutSeconds: cfg.Scribe.TimeoutSeconds,
	}

	var service scribe.Service
	switch strings.ToLower(strings.TrimSpace(cfg.Scribe.Mode)) {
	case "", "http":
		service = scribe.NewClient(scribeCfg)
	case "openai":
		direct, err := scribe.NewDirectService(scribeCfg)
		if err != nil {
			return nil, fmt.Errorf("configure openai backend: %w", err)
		}
		service = direct
	default:
		return nil, fmt.Errorf("unknown scribe mode %q", cfg.Scribe.Mode)
	}

	return worker.NewClient(service, logger,
		worker.WithPollInterval(time.Duration(cfg.Workflow.PollInterval)*time.Second),
		worker.WithPollBudget(time.Duration(cfg.Workflow.PollBudget)*time.Second),
	), nil
}

// withStore opens the workflow store for the duration of fn.
func (c *commandContext) withStore(fn func(*config.Config, *slog.Logger, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(cfg, logger, st)
}

// withCoordinator opens a workflow instance for the duration of fn, flushing
// debounced saves before close.
func (c *commandContext) withCoordinator(ctx context.Context, workflowID string, fn func(*workflow.Coordinator) error) error {
	return c.withStore(func(cfg *config.Config, logger *slog.Logger, st *store.Store) error {
		runner, err := c.buildRunner(cfg, logger)
		if err != nil {
			return err
		}
		notifier := notifications.NewService(cfg)
		coord, err := workflow.Open(ctx, cfg, st, runner, notifier, logger, workflowID)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if closeErr := coord.Close(closeCtx); closeErr != nil {
				logger.Warn("close workflow", logging.Error(closeErr))
			}
		}()
		return fn(coord)
	})
}
