package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quill/internal/logging"
	"quill/internal/services"
)

// SaveFunc performs one persistence write.
type SaveFunc func(ctx context.Context) error

// Debouncer coalesces rapid edit writes into one flush per key. Rapid
// successive schedules for the same key keep only the latest function, so a
// burst of toggles produces a single write.
type Debouncer struct {
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]SaveFunc
	timer   *time.Timer
	closed  bool
}

// NewDebouncer constructs a debouncer with the given flush delay.
func NewDebouncer(delay time.Duration, logger *slog.Logger) *Debouncer {
	if delay <= 0 {
		delay = 750 * time.Millisecond
	}
	return &Debouncer{
		delay:   delay,
		logger:  logging.NewComponentLogger(logger, "store"),
		pending: make(map[string]SaveFunc),
	}
}

// Schedule queues a save under a key and (re)arms the flush timer. The latest
// function scheduled for a key wins.
func (d *Debouncer) Schedule(key string, save SaveFunc) {
	if save == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending[key] = save
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flushExpired)
}

// FlushNow writes all pending saves immediately. Callers invoke this before a
// regeneration or shutdown so no edit is lost to the debounce window. Failed
// writes are reported as persistence errors; the caller keeps its in-memory
// state and retries later.
func (d *Debouncer) FlushNow(ctx context.Context) error {
	saves := d.take()
	if len(saves) == 0 {
		return nil
	}

	var errs []error
	for key, save := range saves {
		if err := save(ctx); err != nil {
			errs = append(errs, services.Wrap(services.ErrPersistence, "", "flush", key, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes outstanding saves and stops the debouncer.
func (d *Debouncer) Close(ctx context.Context) error {
	err := d.FlushNow(ctx)
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	return err
}

// Pending returns how many saves await the next flush.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) flushExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.FlushNow(ctx); err != nil {
		d.logger.Warn("debounced save failed; in-memory state retained",
			logging.Error(err))
	}
}

func (d *Debouncer) take() map[string]SaveFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.pending) == 0 {
		return nil
	}
	saves := d.pending
	d.pending = make(map[string]SaveFunc)
	return saves
}
