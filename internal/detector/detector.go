package detector

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vigilia/vigilia/internal/event"
)

// State is the debouncer state.
type State string

const (
	// StateNormal means no anomaly is in progress.
	StateNormal State = "NORMAL"
	// StateAnomalous means an anomalous run is open.
	StateAnomalous State = "ANOMALOUS"
)

// ErrInconsistentState marks the unreachable condition of an ANOMALOUS
// machine with no recorded run start. It indicates a logic bug; the
// machine recovers by resetting to NORMAL and emitting nothing.
var ErrInconsistentState = errors.New("anomalous state with no pending start")

// Defaults for Options, matching the historical configuration.
const (
	DefaultMinDuration = 500 * time.Millisecond
	DefaultDedupWindow = 2 * time.Second
)

// Options configures a Machine. The zero value gets the defaults above.
type Options struct {
	// EventType stamps emitted events. Defaults to event.TypeFall.
	EventType string

	// MinDuration is the shortest anomalous run that counts as a real
	// event rather than classifier noise.
	MinDuration time.Duration

	// DedupWindow is the maximum gap between two runs for them to be
	// merged into one event.
	DedupWindow time.Duration

	// DisableFiltering restores the unfiltered legacy behavior: every
	// ANOMALOUS to NORMAL transition emits immediately, with no minimum
	// duration and no merging.
	DisableFiltering bool

	// Now overrides the wall clock, used by Finalize and by signals that
	// carry no timestamp. Defaults to time.Now.
	Now func() time.Time
}

// pending is an open anomalous run.
type pending struct {
	start    time.Time
	frame    int64
	metadata map[string]any
}

// Machine is the debounced event state machine.
//
// All of Update and Finalize runs under one exclusive critical section per
// instance, so concurrent producers cannot interleave the read-modify-write
// and Finalize cannot race a natural close.
type Machine struct {
	mu sync.Mutex

	eventType     string
	minDuration   time.Duration
	dedupWindow   time.Duration
	disableFilter bool
	now           func() time.Time

	state State
	open  *pending

	// candidate is the last completed event, held until the dedup window
	// has definitively elapsed. merging is true while the open run is an
	// extension of the candidate.
	candidate *event.Event
	merging   bool
}

// New creates a Machine in StateNormal.
func New(opts Options) *Machine {
	if opts.EventType == "" {
		opts.EventType = event.TypeFall
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{
		eventType:     opts.EventType,
		minDuration:   opts.MinDuration,
		dedupWindow:   opts.DedupWindow,
		disableFilter: opts.DisableFiltering,
		now:           opts.Now,
		state:         StateNormal,
	}
}

// State returns the current debouncer state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Update consumes one signal and returns a completed event when one
// becomes final, nil otherwise.
//
// Frame indexes must be monotonically non-decreasing per producer; gaps
// are tolerated. Signals without a timestamp are stamped with the
// machine's clock.
func (m *Machine) Update(sig event.Signal) *event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := sig.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	ts = ts.UTC()

	switch {
	case sig.IsAnomalous && m.state == StateNormal:
		return m.beginRun(sig, ts)

	case !sig.IsAnomalous && m.state == StateAnomalous:
		return m.closeRun(sig, ts)

	case !sig.IsAnomalous && m.state == StateNormal:
		// Quiet frame. The held candidate becomes final once the dedup
		// window has elapsed since its end.
		return m.releaseExpired(ts)
	}

	// ANOMALOUS && anomalous: run continues, nothing to emit.
	return nil
}

// beginRun handles the NORMAL to ANOMALOUS transition.
func (m *Machine) beginRun(sig event.Signal, ts time.Time) *event.Event {
	m.state = StateAnomalous
	m.open = &pending{start: ts, frame: sig.FrameIndex, metadata: sig.Metadata}
	slog.Info("fall started", "frame", sig.FrameIndex)

	if m.candidate == nil {
		return nil
	}
	if ts.Sub(m.candidate.EndTime) < m.dedupWindow {
		// This run starts inside the dedup window: it will extend the
		// held candidate instead of becoming a second event.
		m.merging = true
		return nil
	}
	// Window elapsed: the candidate can no longer be merged into.
	return m.takeCandidate()
}

// closeRun handles the ANOMALOUS to NORMAL transition.
func (m *Machine) closeRun(sig event.Signal, ts time.Time) *event.Event {
	m.state = StateNormal
	run := m.open
	m.open = nil
	wasMerging := m.merging
	m.merging = false

	if run == nil {
		slog.Warn("detector state reset", "error", ErrInconsistentState)
		return nil
	}

	duration := ts.Sub(run.start)
	endFrame := sig.FrameIndex - 1
	total := sig.FrameIndex - run.frame

	if m.disableFilter {
		ev := m.buildEvent(run, ts, endFrame, total)
		slog.Info("fall ended", "frame", endFrame, "duration_seconds", duration.Seconds())
		return &ev
	}

	if duration < m.minDuration {
		// Noise: most likely a handful of misclassified frames.
		slog.Debug("discarding short anomalous run",
			"duration_seconds", duration.Seconds(),
			"min_duration_seconds", m.minDuration.Seconds(),
		)
		return nil
	}

	if wasMerging && m.candidate != nil {
		m.extendCandidate(ts, endFrame)
		slog.Info("fall merged into previous event",
			"end_frame", endFrame,
			"duration_seconds", m.candidate.DurationSeconds,
		)
		return nil
	}

	ev := m.buildEvent(run, ts, endFrame, total)
	slog.Info("fall ended", "frame", endFrame, "duration_seconds", duration.Seconds())
	m.candidate = &ev
	return nil
}

// releaseExpired returns the held candidate once it is past the dedup
// window, nil otherwise.
func (m *Machine) releaseExpired(ts time.Time) *event.Event {
	if m.candidate == nil || ts.Sub(m.candidate.EndTime) < m.dedupWindow {
		return nil
	}
	return m.takeCandidate()
}

// Finalize force-closes any in-flight state, for orderly shutdown.
//
// If a run is open it is closed at the current clock time with an unknown
// end frame and FinalizedForced set. Otherwise a held candidate (a
// naturally completed event still inside its dedup window) is released
// as-is. Idempotent: a second call with no intervening anomalous run
// returns nil.
//
// Finalize takes the same instance lock as Update, so it must not be
// called while the caller holds a signal mid-update; there is no separate
// finalize thread by construction.
func (m *Machine) Finalize() *event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAnomalous {
		if m.candidate != nil {
			return m.takeCandidate()
		}
		return nil
	}

	m.state = StateNormal
	run := m.open
	m.open = nil
	wasMerging := m.merging
	m.merging = false

	if run == nil {
		slog.Warn("detector state reset", "error", ErrInconsistentState)
		return nil
	}

	now := m.now().UTC()
	if wasMerging && m.candidate != nil {
		// The open run was an extension of the candidate: force-close the
		// combined event.
		m.candidate.EndTime = now
		m.candidate.DurationSeconds = now.Sub(m.candidate.StartTime).Seconds()
		m.candidate.EndFrame = nil
		m.candidate.TotalFrames = nil
		m.candidate.FinalizedForced = true
		ev := m.takeCandidate()
		slog.Info("fall finalized forcibly", "duration_seconds", ev.DurationSeconds)
		return ev
	}

	ev := event.Event{
		EventType:       m.eventType,
		StartTime:       run.start,
		EndTime:         now,
		DurationSeconds: now.Sub(run.start).Seconds(),
		StartFrame:      run.frame,
		EndFrame:        nil,
		TotalFrames:     nil,
		Metadata:        run.metadata,
		FinalizedForced: true,
	}
	slog.Info("fall finalized forcibly", "duration_seconds", ev.DurationSeconds)
	return &ev
}

func (m *Machine) buildEvent(run *pending, end time.Time, endFrame, total int64) event.Event {
	return event.Event{
		EventType:       m.eventType,
		StartTime:       run.start,
		EndTime:         end,
		DurationSeconds: end.Sub(run.start).Seconds(),
		StartFrame:      run.frame,
		EndFrame:        event.Int64(endFrame),
		TotalFrames:     event.Int64(total),
		Metadata:        run.metadata,
	}
}

// extendCandidate stretches the held candidate to cover a merged run.
// The candidate keeps its original start and metadata.
func (m *Machine) extendCandidate(end time.Time, endFrame int64) {
	m.candidate.EndTime = end
	m.candidate.DurationSeconds = end.Sub(m.candidate.StartTime).Seconds()
	m.candidate.EndFrame = event.Int64(endFrame)
	m.candidate.TotalFrames = event.Int64(endFrame + 1 - m.candidate.StartFrame)
	m.candidate.FinalizedForced = false
}

func (m *Machine) takeCandidate() *event.Event {
	ev := m.candidate
	m.candidate = nil
	m.merging = false
	return ev
}
