package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vigilia/vigilia/internal/event"
)

// HTTP posts event documents as JSON to a remote collection URL.
//
// Each document carries a fresh UUID and an uploaded_at stamp in addition
// to the event fields. The remote is not assumed to deduplicate; the sync
// engine's cursor prevents re-sends of confirmed events.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates an uploader posting to url. The per-attempt deadline is
// carried by the context passed to Upload, so the client itself has no
// timeout.
func NewHTTP(url string) *HTTP {
	return &HTTP{url: url, client: &http.Client{}}
}

// document is the wire shape of one uploaded event.
type document struct {
	ID         string    `json:"id"`
	UploadedAt time.Time `json:"uploaded_at"`
	event.Event
}

// Upload posts one event. Any non-2xx response is a *RemoteError.
func (h *HTTP) Upload(ctx context.Context, ev event.Event) error {
	doc := document{
		ID:         uuid.NewString(),
		UploadedAt: time.Now().UTC(),
		Event:      ev,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Identity(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload event %s: %w", ev.Identity(), err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{Status: resp.StatusCode, URL: h.url}
	}
	return nil
}

// RemoteError reports a non-2xx response from the remote collection.
type RemoteError struct {
	Status int
	URL    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote store %s returned status %d", e.URL, e.Status)
}
