// Package cursor persists the sync high-water mark: the identity of the
// last event confirmed uploaded to the remote store.
package cursor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vigilia/vigilia/internal/event"
)

// Cursor stores a single event identity in a plain text file using the
// same atomic temp-file-rename discipline as the event log.
//
// The cursor advances monotonically and only after a remote upload has
// been confirmed; enforcement of that ordering lives in the sync engine,
// the cursor itself is a dumb durable scalar.
type Cursor struct {
	path string
	mu   sync.Mutex
}

// New creates a cursor backed by the file at path.
func New(path string) *Cursor {
	return &Cursor{path: path}
}

// Path returns the cursor file path.
func (c *Cursor) Path() string {
	return c.path
}

// Load returns the persisted identity, or nil if no cursor exists yet.
//
// An unparsable cursor is treated as absent with a warning: re-syncing
// from the start is recoverable (idempotent remotes dedup on identity),
// losing the ability to sync at all is not.
func (c *Cursor) Load() (*event.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cursor %s: %w", c.path, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	id, err := event.ParseIdentity(text)
	if err != nil {
		slog.Warn("unparsable sync cursor, treating as absent",
			"path", c.path,
			"error", err,
		)
		return nil, nil
	}
	return &id, nil
}

// Save durably replaces the cursor with id.
func (c *Cursor) Save(id event.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cursor directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(id.String() + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("save cursor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save cursor: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
