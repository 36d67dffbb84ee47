package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quill/internal/logging"
	"quill/internal/services"
	"quill/internal/services/scribe"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollBudget   = 300 * time.Second
)

// Client submits generation requests and polls them to a terminal state.
type Client struct {
	service      scribe.Service
	logger       *slog.Logger
	pollInterval time.Duration
	pollBudget   time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithPollInterval overrides the delay between status checks.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithPollBudget overrides the total time allowed before a run times out.
func WithPollBudget(budget time.Duration) Option {
	return func(c *Client) {
		if budget > 0 {
			c.pollBudget = budget
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper overrides how the poll loop waits between checks.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient constructs a worker client around a generation service.
func NewClient(service scribe.Service, logger *slog.Logger, opts ...Option) *Client {
	client := &Client{
		service:      service,
		logger:       logging.NewComponentLogger(logger, "worker"),
		pollInterval: defaultPollInterval,
		pollBudget:   defaultPollBudget,
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Run submits a request and drives it to a terminal update. Synchronous
// resolutions return immediately; otherwise the job is polled on a fixed
// interval until it completes, fails, or exhausts the poll budget.
//
// Transient status failures are logged and swallowed without resetting the
// budget, so a flaky network cannot extend a run indefinitely.
func (c *Client) Run(ctx context.Context, req scribe.Request) (scribe.Update, error) {
	if c.service == nil {
		return scribe.Update{}, errors.New("worker: no generation service configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	update, err := c.service.Generate(ctx, req)
	if err != nil {
		return scribe.Update{}, err
	}
	if update.Terminal() {
		c.logger.Info("generation resolved synchronously",
			logging.String(logging.FieldStage, req.StageKey),
			logging.String("state", string(update.State)))
		return update, nil
	}
	if update.Ref == "" {
		return scribe.Update{}, services.Wrap(services.ErrWorker, req.StageKey, "submit",
			"service accepted job without a reference", nil)
	}

	c.logger.Info("generation job accepted",
		logging.String(logging.FieldStage, req.StageKey),
		logging.String(logging.FieldJobRef, update.Ref))
	return c.poll(ctx, req, update.Ref)
}

func (c *Client) poll(ctx context.Context, req scribe.Request, ref string) (scribe.Update, error) {
	deadline := c.now().Add(c.pollBudget)
	for {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return scribe.Update{}, err
		}
		if !c.now().Before(deadline) {
			return scribe.Update{}, services.Wrap(services.ErrTimeout, req.StageKey, "poll",
				fmt.Sprintf("job %s exceeded poll budget %s", ref, c.pollBudget), nil)
		}

		update, err := c.service.Status(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return scribe.Update{}, ctx.Err()
			}
			if errors.Is(err, services.ErrTransient) {
				c.logger.Debug("transient poll failure",
					logging.String(logging.FieldJobRef, ref),
					logging.Error(err))
				continue
			}
			return scribe.Update{}, err
		}
		if update.Terminal() {
			if update.Ref == "" {
				update.Ref = ref
			}
			return update, nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
