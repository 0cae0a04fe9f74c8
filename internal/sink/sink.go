// Package sink delivers completed fall events to downstream consumers:
// alerting hardware, report generators, operator logs. Sinks sit strictly
// after durable persistence - a sink failure is logged and dropped, never
// allowed to roll back an already-durable event.
package sink

import (
	"context"
	"log/slog"

	"github.com/vigilia/vigilia/internal/event"
)

// Sink receives completed events. Implementations must be safe to call
// from the detection loop goroutine and should bound their own blocking.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev event.Event) error
}

// Dispatcher fans one event out to every registered sink.
type Dispatcher struct {
	sinks []Sink
}

// NewDispatcher creates a dispatcher over sinks. Zero sinks is valid.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

// Add registers another sink.
func (d *Dispatcher) Add(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Dispatch hands ev to every sink. Failures are logged per sink and do
// not stop delivery to the remaining sinks.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			slog.Warn("event sink delivery failed",
				"sink", s.Name(),
				"identity", ev.Identity().String(),
				"error", err,
			)
		}
	}
}

// Log is a Sink that records events to the structured log. It always
// succeeds.
type Log struct{}

// Name implements Sink.
func (Log) Name() string { return "log" }

// Deliver implements Sink.
func (Log) Deliver(_ context.Context, ev event.Event) error {
	slog.Info("fall event completed",
		"start_time", ev.StartTime,
		"end_time", ev.EndTime,
		"duration_seconds", ev.DurationSeconds,
		"start_frame", ev.StartFrame,
		"forced", ev.FinalizedForced,
	)
	return nil
}
