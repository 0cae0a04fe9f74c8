package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/vigilia/vigilia/internal/event"
)

// ErrScriptedFailure is the error returned by scripted upload failures.
var ErrScriptedFailure = errors.New("scripted upload failure")

// ScriptedUploader records uploads and fails on demand, per identity.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedUploader struct {
	mu       sync.Mutex
	failures map[string]int
	uploaded []event.Event
	attempts int
	blockOn  chan struct{}
}

// NewScriptedUploader creates an uploader that succeeds for everything.
func NewScriptedUploader() *ScriptedUploader {
	return &ScriptedUploader{failures: make(map[string]int)}
}

// FailNext makes the next times uploads of id fail with
// ErrScriptedFailure before succeeding.
func (u *ScriptedUploader) FailNext(id event.Identity, times int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures[id.String()] = times
}

// Block makes every Upload wait on the returned channel (close it to
// release). Used to hold a sync pass open.
func (u *ScriptedUploader) Block() chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.blockOn = make(chan struct{})
	return u.blockOn
}

// Upload implements syncer.Uploader.
func (u *ScriptedUploader) Upload(ctx context.Context, ev event.Event) error {
	u.mu.Lock()
	block := u.blockOn
	u.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.attempts++
	key := ev.Identity().String()
	if remaining := u.failures[key]; remaining > 0 {
		u.failures[key] = remaining - 1
		return ErrScriptedFailure
	}
	u.uploaded = append(u.uploaded, ev)
	return nil
}

// Uploaded returns a copy of the successfully uploaded events, in order.
func (u *ScriptedUploader) Uploaded() []event.Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]event.Event, len(u.uploaded))
	copy(out, u.uploaded)
	return out
}

// Attempts returns the total number of Upload calls, failures included.
func (u *ScriptedUploader) Attempts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attempts
}
