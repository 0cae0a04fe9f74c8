package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilia/vigilia/internal/event"
	"github.com/vigilia/vigilia/internal/testutil"
)

var base = time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

// sig builds a signal at base+offset.
func sig(anomalous bool, frame int64, offset time.Duration) event.Signal {
	return event.Signal{
		IsAnomalous: anomalous,
		FrameIndex:  frame,
		Timestamp:   base.Add(offset),
	}
}

func newMachine(t *testing.T) (*Machine, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(base)
	m := New(Options{Now: clock.Now})
	return m, clock
}

func TestShortRunIsDiscarded(t *testing.T) {
	m, _ := newMachine(t)

	// 0.4s run, under the 0.5s default minimum.
	assert.Nil(t, m.Update(sig(true, 100, 0)))
	assert.Equal(t, StateAnomalous, m.State())
	assert.Nil(t, m.Update(sig(false, 112, 400*time.Millisecond)))
	assert.Equal(t, StateNormal, m.State())

	// Nothing ever surfaces, even long after the dedup window.
	assert.Nil(t, m.Update(sig(false, 500, 10*time.Second)))
	assert.Nil(t, m.Finalize())
}

func TestQualifyingRunEmitsOneEvent(t *testing.T) {
	m, _ := newMachine(t)

	assert.Nil(t, m.Update(sig(true, 100, 0)))
	assert.Nil(t, m.Update(sig(false, 118, 600*time.Millisecond)))

	// Held until the dedup window has definitively elapsed.
	assert.Nil(t, m.Update(sig(false, 130, time.Second)))
	ev := m.Update(sig(false, 200, 2600*time.Millisecond))
	require.NotNil(t, ev)

	assert.Equal(t, event.TypeFall, ev.EventType)
	assert.InDelta(t, 0.6, ev.DurationSeconds, 1e-9)
	assert.True(t, ev.StartTime.Equal(base))
	assert.True(t, ev.EndTime.Equal(base.Add(600*time.Millisecond)))
	assert.Equal(t, int64(100), ev.StartFrame)
	require.NotNil(t, ev.EndFrame)
	assert.Equal(t, int64(117), *ev.EndFrame)
	require.NotNil(t, ev.TotalFrames)
	assert.Equal(t, int64(18), *ev.TotalFrames)
	assert.False(t, ev.FinalizedForced)

	// Only one event for the run.
	assert.Nil(t, m.Update(sig(false, 300, 10*time.Second)))
	assert.Nil(t, m.Finalize())
}

func TestDurationInvariantMatchesEndMinusStart(t *testing.T) {
	m, _ := newMachine(t)

	m.Update(sig(true, 1, 0))
	m.Update(sig(false, 50, 1700*time.Millisecond))
	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.InDelta(t, ev.EndTime.Sub(ev.StartTime).Seconds(), ev.DurationSeconds, 1e-9)
}

func TestRunsWithinDedupWindowMerge(t *testing.T) {
	m, _ := newMachine(t)

	// Run 1: 0..1s, frames 100-119.
	m.Update(sig(true, 100, 0))
	assert.Nil(t, m.Update(sig(false, 120, time.Second)))

	// Run 2 starts 1.0s after run 1 ended - inside the 2.0s window.
	assert.Nil(t, m.Update(sig(true, 140, 2*time.Second)))
	assert.Nil(t, m.Update(sig(false, 160, 3*time.Second)))

	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.True(t, ev.StartTime.Equal(base), "merged event keeps the first run's start")
	assert.True(t, ev.EndTime.Equal(base.Add(3*time.Second)))
	assert.InDelta(t, 3.0, ev.DurationSeconds, 1e-9)
	assert.Equal(t, int64(100), ev.StartFrame)
	require.NotNil(t, ev.EndFrame)
	assert.Equal(t, int64(159), *ev.EndFrame)
	assert.False(t, ev.FinalizedForced)

	// The merge consumed run 2: no second event.
	assert.Nil(t, m.Finalize())
}

func TestRunsBeyondDedupWindowStayDistinct(t *testing.T) {
	m, _ := newMachine(t)

	// Run 1: 0..1s.
	m.Update(sig(true, 100, 0))
	assert.Nil(t, m.Update(sig(false, 120, time.Second)))

	// Run 2 starts 3.0s after run 1 ended - past the window, so run 1
	// becomes final at this transition.
	first := m.Update(sig(true, 200, 4*time.Second))
	require.NotNil(t, first)
	assert.True(t, first.StartTime.Equal(base))
	assert.InDelta(t, 1.0, first.DurationSeconds, 1e-9)

	assert.Nil(t, m.Update(sig(false, 220, 5*time.Second)))
	second := m.Finalize()
	require.NotNil(t, second)
	assert.True(t, second.StartTime.Equal(base.Add(4*time.Second)))
	assert.InDelta(t, 1.0, second.DurationSeconds, 1e-9)
	assert.True(t, second.StartTime.After(first.EndTime))
}

func TestShortSecondRunDoesNotExtendCandidate(t *testing.T) {
	m, _ := newMachine(t)

	m.Update(sig(true, 100, 0))
	m.Update(sig(false, 120, time.Second))

	// A 0.2s blip inside the window is noise, not a merge.
	m.Update(sig(true, 130, 1500*time.Millisecond))
	assert.Nil(t, m.Update(sig(false, 136, 1700*time.Millisecond)))

	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.True(t, ev.EndTime.Equal(base.Add(time.Second)), "blip must not move the end")
	require.NotNil(t, ev.EndFrame)
	assert.Equal(t, int64(119), *ev.EndFrame)
}

func TestFinalizeForcesOpenRunClosed(t *testing.T) {
	m, clock := newMachine(t)

	m.Update(sig(true, 100, 0))
	clock.Set(base.Add(700 * time.Millisecond))

	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.True(t, ev.FinalizedForced)
	assert.Nil(t, ev.EndFrame, "forced close has unknown end frame")
	assert.Nil(t, ev.TotalFrames)
	assert.InDelta(t, 0.7, ev.DurationSeconds, 1e-9)
	assert.Equal(t, StateNormal, m.State())

	// Idempotent: nothing left to finalize.
	assert.Nil(t, m.Finalize())
}

func TestFinalizeReleasesHeldCandidate(t *testing.T) {
	m, _ := newMachine(t)

	m.Update(sig(true, 100, 0))
	m.Update(sig(false, 120, time.Second))

	// Still inside the dedup window, but shutdown must not lose it.
	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.False(t, ev.FinalizedForced)
	assert.InDelta(t, 1.0, ev.DurationSeconds, 1e-9)

	assert.Nil(t, m.Finalize())
}

func TestFinalizeMergesOpenExtension(t *testing.T) {
	m, clock := newMachine(t)

	m.Update(sig(true, 100, 0))
	m.Update(sig(false, 120, time.Second))
	// Run 2 opens inside the window and is still open at shutdown.
	m.Update(sig(true, 140, 2*time.Second))
	clock.Set(base.Add(2500 * time.Millisecond))

	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.True(t, ev.FinalizedForced)
	assert.True(t, ev.StartTime.Equal(base), "forced merge keeps the first run's start")
	assert.True(t, ev.EndTime.Equal(base.Add(2500*time.Millisecond)))
	assert.Nil(t, ev.EndFrame)

	assert.Nil(t, m.Finalize())
}

func TestMetadataPassesThroughUnmodified(t *testing.T) {
	m, _ := newMachine(t)

	meta := map[string]any{"aspect_ratio": 0.62, "camera": "hall-1"}
	s := sig(true, 100, 0)
	s.Metadata = meta
	m.Update(s)
	m.Update(sig(false, 130, time.Second))

	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.Equal(t, meta, ev.Metadata)
}

func TestMergedEventKeepsFirstRunsMetadata(t *testing.T) {
	m, _ := newMachine(t)

	s1 := sig(true, 100, 0)
	s1.Metadata = map[string]any{"camera": "hall-1"}
	m.Update(s1)
	m.Update(sig(false, 120, time.Second))

	s2 := sig(true, 140, 2*time.Second)
	s2.Metadata = map[string]any{"camera": "hall-2"}
	m.Update(s2)
	m.Update(sig(false, 160, 3*time.Second))

	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.Equal(t, map[string]any{"camera": "hall-1"}, ev.Metadata)
}

func TestDisableFilteringEmitsEveryTransition(t *testing.T) {
	clock := testutil.NewClock(base)
	m := New(Options{Now: clock.Now, DisableFiltering: true})

	// Even a 0.1s run emits, immediately.
	m.Update(sig(true, 100, 0))
	ev := m.Update(sig(false, 103, 100*time.Millisecond))
	require.NotNil(t, ev)
	assert.InDelta(t, 0.1, ev.DurationSeconds, 1e-9)

	// A second run 0.2s later stays a separate event.
	m.Update(sig(true, 110, 300*time.Millisecond))
	ev2 := m.Update(sig(false, 116, 500*time.Millisecond))
	require.NotNil(t, ev2)
	assert.True(t, ev2.StartTime.After(ev.EndTime.Add(-time.Nanosecond)))
}

func TestNoTransitionNoOutput(t *testing.T) {
	m, _ := newMachine(t)

	assert.Nil(t, m.Update(sig(false, 1, 0)))
	assert.Nil(t, m.Update(sig(true, 2, time.Second)))
	assert.Nil(t, m.Update(sig(true, 3, 2*time.Second)))
	assert.Equal(t, StateAnomalous, m.State())
}

func TestFrameGapsAreTolerated(t *testing.T) {
	m, _ := newMachine(t)

	m.Update(sig(true, 1000, 0))
	// Large frame gap while anomalous.
	assert.Nil(t, m.Update(sig(true, 5000, time.Second)))
	m.Update(sig(false, 9000, 2*time.Second))

	ev := m.Finalize()
	require.NotNil(t, ev)
	assert.Equal(t, int64(1000), ev.StartFrame)
	require.NotNil(t, ev.EndFrame)
	assert.Equal(t, int64(8999), *ev.EndFrame)
}
