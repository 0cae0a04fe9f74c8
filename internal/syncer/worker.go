package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultSyncInterval is the period between scheduled sync passes.
const DefaultSyncInterval = 10 * time.Second

// Worker runs SyncOnce on a fixed interval, independent of the detection
// loop, and accepts best-effort kicks so freshly appended events sync
// without waiting a full interval.
type Worker struct {
	engine   *Engine
	interval time.Duration
	kick     chan struct{}
}

// NewWorker creates a worker driving e every interval.
func NewWorker(e *Engine, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Worker{
		engine:   e,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate sync pass without blocking. If a kick is
// already queued the request is dropped; the pending kick covers it.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run drives sync passes until ctx is cancelled, then returns ctx.Err().
//
// A pass that overlaps a trigger is simply skipped (SyncOnce reports
// ErrSyncInProgress); failed passes are logged and retried on the next
// tick. Run never grows a backlog of triggers.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("sync worker starting", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.pass(ctx)
		case <-w.kick:
			w.pass(ctx)
		}
	}
}

func (w *Worker) pass(ctx context.Context) {
	n, err := w.engine.SyncOnce(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		// Another trigger won the race; nothing lost.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown mid-pass. Only confirmed, durable state was left behind.
	case err != nil:
		slog.Warn("sync pass incomplete, events remain pending",
			"uploaded", n,
			"error", err,
		)
	}
}
