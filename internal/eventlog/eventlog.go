package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vigilia/vigilia/internal/event"
)

// Quarantine reasons, embedded in the quarantine file name.
const (
	ReasonDecodeError = "json-decode-error"
	ReasonNotAnArray  = "not-an-array"
	ReasonUnreadable  = "unreadable"
)

// Option configures a Log.
type Option func(*Log)

// WithQuarantineHook registers a callback invoked after a corrupt log file
// has been moved aside. Used to feed the corruption counter metric.
func WithQuarantineHook(hook func(reason string)) Option {
	return func(l *Log) {
		l.onQuarantine = hook
	}
}

// WithClock overrides the wall clock used for quarantine file timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// Log is an append-only store of events backed by a single JSON array file.
//
// Log has no knowledge of event semantics and performs no deduplication;
// callers must not append the same event twice. The full read-modify-write
// of Append runs under one lock so concurrent appenders never interleave.
type Log struct {
	path string
	mu   sync.Mutex

	now          func() time.Time
	onQuarantine func(reason string)
}

// Open creates a Log at path, creating parent directories as needed.
// The log file itself is created lazily on first append.
func Open(path string, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	l := &Log{path: path, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append durably adds one event to the log.
//
// The prior file on disk is untouched until the replacement is fully
// written and fsynced, so a failed append never damages existing history.
// Failures are returned as *WriteError; losing an event write is a
// data-loss condition the caller must see.
func (l *Log) Append(ev event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.readLocked()
	history = append(history, ev)
	return l.writeLocked(history)
}

// ReadAll returns every event in the log, oldest first.
//
// A missing file yields an empty sequence. An unparsable file is
// quarantined wholesale and also yields an empty sequence - corruption is
// logged, never returned as an error.
func (l *Log) ReadAll() []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

// Len returns the number of events currently in the log.
func (l *Log) Len() int {
	return len(l.ReadAll())
}

// Clear truncates the log to an empty sequence. Intended for tests and
// operational scripts, not the detection path.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLocked([]event.Event{})
}

func (l *Log) readLocked() []event.Event {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		l.quarantine(ReasonUnreadable)
		return nil
	}

	var history []event.Event
	if err := json.Unmarshal(data, &history); err != nil {
		// Distinguish a top-level shape mismatch from garbage bytes.
		var probe any
		reason := ReasonDecodeError
		if json.Unmarshal(data, &probe) == nil {
			reason = ReasonNotAnArray
		}
		l.quarantine(reason)
		return nil
	}
	return history
}

// writeLocked replaces the log contents with history using the
// temp-file/fsync/rename discipline.
func (l *Log) writeLocked(history []event.Event) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return &WriteError{Path: l.path, Err: err}
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return &WriteError{Path: l.path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &WriteError{Path: l.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &WriteError{Path: l.path, Err: fmt.Errorf("fsync: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: l.path, Err: err}
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return &WriteError{Path: l.path, Err: err}
	}
	return nil
}

// quarantine moves the unreadable log aside so forward progress resumes
// with an empty sequence. The original is kept for forensics.
func (l *Log) quarantine(reason string) {
	ts := l.now().UTC().Format("20060102T150405Z")
	dest := fmt.Sprintf("%s.corrupt.%s.%s", l.path, reason, ts)
	if err := os.Rename(l.path, dest); err != nil {
		slog.Error("failed to quarantine corrupt event log",
			"path", l.path,
			"reason", reason,
			"error", err,
		)
		return
	}
	slog.Warn("quarantined corrupt event log",
		"path", l.path,
		"quarantine", dest,
		"reason", reason,
	)
	if l.onQuarantine != nil {
		l.onQuarantine(reason)
	}
}
