package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/vigilia/vigilia/internal/cursor"
	"github.com/vigilia/vigilia/internal/event"
	"github.com/vigilia/vigilia/internal/eventlog"
	"github.com/vigilia/vigilia/internal/metrics"
)

// Uploader is the remote store boundary. Implementations may talk to any
// backend; the engine only requires that a nil return means the event is
// durably accepted remotely.
type Uploader interface {
	Upload(ctx context.Context, ev event.Event) error
}

// Defaults matching the historical configuration.
const (
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = time.Second
	DefaultUploadTimeout = 10 * time.Second
)

// Config tunes the retry behavior of an Engine.
type Config struct {
	// MaxRetries is the number of attempts per event per pass.
	MaxRetries int
	// RetryBackoff is the base of the linear backoff between attempts
	// (attempt n sleeps n*RetryBackoff).
	RetryBackoff time.Duration
	// UploadTimeout bounds each individual upload attempt.
	UploadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics wires the engine to the operator metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSleep overrides the backoff sleep, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// Engine reads unsynced events from the log and uploads them in identity
// order, advancing the cursor after each confirmed upload.
type Engine struct {
	log      *eventlog.Log
	cursor   *cursor.Cursor
	uploader Uploader
	cfg      Config

	metrics *metrics.Metrics
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time

	// inFlight guards against re-entrant passes. A concurrent trigger is
	// dropped, never queued.
	inFlight atomic.Bool
}

// NewEngine creates a sync engine over log, cur and up.
func NewEngine(log *eventlog.Log, cur *cursor.Cursor, up Uploader, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		log:      log,
		cursor:   cur,
		uploader: up,
		cfg:      cfg.withDefaults(),
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncOnce runs one sync pass and returns how many events were uploaded.
//
// If another pass is already running it returns (0, ErrSyncInProgress)
// without doing anything. If an event exhausts its retries the pass stops
// there: the count so far is returned together with an *UploadError, and
// the failed event remains the first candidate of the next pass.
func (e *Engine) SyncOnce(ctx context.Context) (int, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return 0, ErrSyncInProgress
	}
	defer e.inFlight.Store(false)

	history := e.log.ReadAll()
	last, err := e.cursor.Load()
	if err != nil {
		return 0, fmt.Errorf("load sync cursor: %w", err)
	}

	candidates := unsyncedCandidates(history, last)
	e.metrics.SetPending(len(candidates))
	if len(candidates) == 0 {
		return 0, nil
	}

	slog.Debug("sync pass starting",
		"history", len(history),
		"pending", len(candidates),
	)

	uploaded := 0
	for _, ev := range candidates {
		if err := e.uploadWithRetry(ctx, ev); err != nil {
			e.metrics.SetPending(len(candidates) - uploaded)
			return uploaded, err
		}
		// Save the cursor per event, not per batch: a crash here loses at
		// most the in-flight upload, never confirmed ones.
		if err := e.cursor.Save(ev.Identity()); err != nil {
			return uploaded, fmt.Errorf("advance sync cursor past %s: %w", ev.Identity(), err)
		}
		uploaded++
		e.metrics.EventUploaded(e.now())
	}

	e.metrics.SetPending(0)
	slog.Info("sync pass complete", "uploaded", uploaded)
	return uploaded, nil
}

// unsyncedCandidates filters history to events strictly after last and
// sorts them ascending by identity. The sort defines the total order for
// resumability even if the log is unordered on disk.
func unsyncedCandidates(history []event.Event, last *event.Identity) []event.Event {
	var out []event.Event
	for _, ev := range history {
		if last == nil || ev.Identity().After(*last) {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b event.Event) int {
		return a.Identity().Compare(b.Identity())
	})
	return out
}

// uploadWithRetry attempts one event up to MaxRetries times with linear
// backoff. Each attempt is bounded by the configured upload timeout.
func (e *Engine) uploadWithRetry(ctx context.Context, ev event.Event) error {
	id := ev.Identity()
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
		lastErr = e.uploader.Upload(attemptCtx, ev)
		cancel()
		if lastErr == nil {
			return nil
		}
		e.metrics.UploadFailed()
		slog.Warn("upload failed",
			"identity", id.String(),
			"attempt", attempt,
			"max_retries", e.cfg.MaxRetries,
			"error", lastErr,
		)
		if attempt < e.cfg.MaxRetries {
			if err := e.sleep(ctx, time.Duration(attempt)*e.cfg.RetryBackoff); err != nil {
				return err
			}
		}
	}
	return &UploadError{Identity: id, Attempts: e.cfg.MaxRetries, Err: lastErr}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
