package uploader

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vigilia/vigilia/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is an Uploader backed by a local SQLite database.
//
// Inserts are keyed on the event identity with ON CONFLICT DO NOTHING, so
// uploads are idempotent from the remote side even though the sync engine
// does not require that.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the archive database at path.
//
// The database is configured with WAL mode for concurrent reads, NORMAL
// synchronous mode, and a 5-second busy timeout. SQLite supports a single
// writer, so the pool is capped at one connection.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to archive database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upload inserts one event. Re-sending an already-archived event is a
// silent no-op.
func (s *SQLite) Upload(ctx context.Context, ev event.Event) error {
	var metadataJSON []byte
	if ev.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("archive event %s: marshal metadata: %w", ev.Identity(), err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, event_type, start_time, end_time, duration_seconds,
		 start_frame, end_frame, total_frames, metadata, finalized_forced, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (start_time, start_frame) DO NOTHING
	`,
		uuid.NewString(),
		ev.EventType,
		ev.StartTime.UTC().Format(time.RFC3339Nano),
		ev.EndTime.UTC().Format(time.RFC3339Nano),
		ev.DurationSeconds,
		ev.StartFrame,
		ev.EndFrame,
		ev.TotalFrames,
		nullableString(metadataJSON),
		ev.FinalizedForced,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive event %s: %w", ev.Identity(), err)
	}
	return nil
}

// Count returns the number of archived events.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archived events: %w", err)
	}
	return n, nil
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
