// Package event defines the shared data model for the detection pipeline:
// per-frame classifier signals, durable fall events, and the identity
// ordering used for sync resumability.
package event

import (
	"time"
)

// TypeFall is the event type emitted by the fall detector.
const TypeFall = "fall"

// Signal is one classifier observation for one frame.
//
// Signals are ephemeral - they are consumed by the state machine and never
// persisted. Metadata is opaque producer context (aspect ratio, landmarks,
// photo path, ...) and is passed through to the emitted Event unmodified.
type Signal struct {
	IsAnomalous bool
	FrameIndex  int64
	Timestamp   time.Time
	Metadata    map[string]any
}

// Event is a durable record of one completed anomalous interval.
//
// Events are immutable facts once appended to the log. The JSON field names
// match the historical on-disk format, so logs written by earlier versions
// of the system remain readable.
//
// EndFrame and TotalFrames are nil only for events closed by a forced
// finalize, where the true end of the interval is unknown.
type Event struct {
	EventType       string         `json:"event_type"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	StartFrame      int64          `json:"start_frame"`
	EndFrame        *int64         `json:"end_frame"`
	TotalFrames     *int64         `json:"total_frames"`
	Metadata        map[string]any `json:"metadata"`
	FinalizedForced bool           `json:"finalized_forced,omitempty"`
}

// Identity returns the dedup/idempotency identity of the event.
func (e Event) Identity() Identity {
	return Identity{StartTime: e.StartTime, StartFrame: e.StartFrame}
}

// Open reports whether the event is missing its end frame, i.e. it was
// closed by a forced finalize rather than a natural transition.
func (e Event) Open() bool {
	return e.EndFrame == nil
}

// Int64 returns a pointer to v. Helper for the optional frame fields.
func Int64(v int64) *int64 {
	return &v
}
