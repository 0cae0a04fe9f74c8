package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vigilia/vigilia/internal/event"
)

type recordingSink struct {
	name      string
	err       error
	delivered []event.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, ev event.Event) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, ev)
	return nil
}

func testEvent() event.Event {
	start := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	return event.Event{
		EventType:       event.TypeFall,
		StartTime:       start,
		EndTime:         start.Add(time.Second),
		DurationSeconds: 1,
		StartFrame:      100,
	}
}

func TestDispatchReachesEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher(a, b)

	d.Dispatch(context.Background(), testEvent())

	assert.Len(t, a.delivered, 1)
	assert.Len(t, b.delivered, 1)
}

func TestDispatchContinuesPastFailure(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("hardware offline")}
	ok := &recordingSink{name: "ok"}
	d := NewDispatcher(failing, ok)

	// Must not panic or stop; the failure is swallowed.
	d.Dispatch(context.Background(), testEvent())

	assert.Len(t, ok.delivered, 1)
}

func TestDispatchWithNoSinks(t *testing.T) {
	NewDispatcher().Dispatch(context.Background(), testEvent())
}

func TestAddRegistersSink(t *testing.T) {
	d := NewDispatcher()
	s := &recordingSink{name: "late"}
	d.Add(s)

	d.Dispatch(context.Background(), testEvent())
	assert.Len(t, s.delivered, 1)
}

func TestLogSinkAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, Log{}.Deliver(context.Background(), testEvent()))
	assert.Equal(t, "log", Log{}.Name())
}
