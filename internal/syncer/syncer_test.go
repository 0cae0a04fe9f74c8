package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilia/vigilia/internal/cursor"
	"github.com/vigilia/vigilia/internal/event"
	"github.com/vigilia/vigilia/internal/eventlog"
	"github.com/vigilia/vigilia/internal/testutil"
)

var syncBase = time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

// makeEvent builds a closed event whose identity orders by n.
func makeEvent(n int) event.Event {
	start := syncBase.Add(time.Duration(n) * time.Minute)
	return event.Event{
		EventType:       event.TypeFall,
		StartTime:       start,
		EndTime:         start.Add(2 * time.Second),
		DurationSeconds: 2,
		StartFrame:      int64(n * 1000),
		EndFrame:        event.Int64(int64(n*1000 + 59)),
		TotalFrames:     event.Int64(60),
	}
}

type fixture struct {
	log      *eventlog.Log
	cursor   *cursor.Cursor
	uploader *testutil.ScriptedUploader
	engine   *Engine
}

func newFixture(t *testing.T, events ...event.Event) *fixture {
	t.Helper()
	dir := t.TempDir()
	log, err := eventlog.Open(filepath.Join(dir, "events_log.json"))
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, log.Append(ev))
	}

	up := testutil.NewScriptedUploader()
	cur := cursor.New(filepath.Join(dir, "cursor.state"))
	eng := NewEngine(log, cur, up, Config{
		MaxRetries:    3,
		RetryBackoff:  time.Millisecond,
		UploadTimeout: time.Second,
	})
	return &fixture{log: log, cursor: cur, uploader: up, engine: eng}
}

func identities(events []event.Event) []event.Identity {
	out := make([]event.Identity, len(events))
	for i, ev := range events {
		out[i] = ev.Identity()
	}
	return out
}

func TestSyncOnceEmptyLog(t *testing.T) {
	f := newFixture(t)
	n, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.uploader.Attempts())
}

func TestSyncOnceUploadsEverythingPastCursor(t *testing.T) {
	a, b, c := makeEvent(1), makeEvent(2), makeEvent(3)
	f := newFixture(t, a, b, c)
	require.NoError(t, f.cursor.Save(a.Identity()))

	n, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []event.Identity{b.Identity(), c.Identity()}, identities(f.uploader.Uploaded()))

	loaded, err := f.cursor.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Zero(t, loaded.Compare(c.Identity()))
}

func TestSyncOncePartialFailureKeepsOrder(t *testing.T) {
	a, b, c := makeEvent(1), makeEvent(2), makeEvent(3)
	f := newFixture(t, a, b, c)
	require.NoError(t, f.cursor.Save(a.Identity()))

	// C fails through every retry; B succeeds first try.
	f.uploader.FailNext(c.Identity(), 3)

	n, err := f.engine.SyncOnce(context.Background())
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.True(t, IsUploadError(err))

	// Cursor stops at B, never skips past the failure.
	loaded, lerr := f.cursor.Load()
	require.NoError(t, lerr)
	require.NotNil(t, loaded)
	assert.Zero(t, loaded.Compare(b.Identity()))

	// The next pass re-attempts only C.
	before := len(f.uploader.Uploaded())
	n, err = f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	uploadedSince := f.uploader.Uploaded()[before:]
	assert.Equal(t, []event.Identity{c.Identity()}, identities(uploadedSince))
}

func TestSyncOnceRetriesTransientFailures(t *testing.T) {
	a := makeEvent(1)
	f := newFixture(t, a)

	// Two failures, then success: within MaxRetries=3.
	f.uploader.FailNext(a.Identity(), 2)

	n, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, f.uploader.Attempts())
}

func TestSyncOnceSortsUnorderedHistory(t *testing.T) {
	a, b, c := makeEvent(1), makeEvent(2), makeEvent(3)
	// Appended out of identity order.
	f := newFixture(t, c, a, b)

	n, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []event.Identity{a.Identity(), b.Identity(), c.Identity()},
		identities(f.uploader.Uploaded()))
}

func TestSyncOnceIsNotReentrant(t *testing.T) {
	a := makeEvent(1)
	f := newFixture(t, a)

	release := f.uploader.Block()
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		n, err := f.engine.SyncOnce(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
	}()

	// Wait for the first pass to be mid-upload, then trigger again.
	require.Eventually(t, func() bool {
		return f.engine.inFlight.Load()
	}, time.Second, time.Millisecond)

	_, err := f.engine.SyncOnce(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	<-firstDone
}

func TestSyncOnceCancelledDuringBackoff(t *testing.T) {
	a := makeEvent(1)
	f := newFixture(t, a)
	f.uploader.FailNext(a.Identity(), 3)
	f.engine.cfg.RetryBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.engine.SyncOnce(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.uploader.Attempts() >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("SyncOnce did not return after cancellation")
	}

	// Nothing confirmed, nothing advanced.
	loaded, err := f.cursor.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestWorkerSyncsAppendedEvents(t *testing.T) {
	a := makeEvent(1)
	f := newFixture(t, a)
	w := NewWorker(f.engine, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(f.uploader.Uploaded()) == 1
	}, time.Second, time.Millisecond)

	// Append another event and nudge the worker instead of waiting a tick.
	b := makeEvent(2)
	require.NoError(t, f.log.Append(b))
	w.Kick()

	require.Eventually(t, func() bool {
		return len(f.uploader.Uploaded()) == 2
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorkerKickIsNonBlocking(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(f.engine, time.Hour)

	// No worker running: repeated kicks must never block or queue.
	for i := 0; i < 100; i++ {
		w.Kick()
	}
}
