package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Identity is the unique identity of an event within a log: the pair
// (StartTime, StartFrame). Identities are totally ordered, time first,
// frame second. The sync cursor persists the identity of the last event
// confirmed uploaded.
type Identity struct {
	StartTime  time.Time
	StartFrame int64
}

// Compare returns -1, 0 or +1 ordering a against b.
func (a Identity) Compare(b Identity) int {
	if a.StartTime.Before(b.StartTime) {
		return -1
	}
	if a.StartTime.After(b.StartTime) {
		return 1
	}
	switch {
	case a.StartFrame < b.StartFrame:
		return -1
	case a.StartFrame > b.StartFrame:
		return 1
	}
	return 0
}

// After reports whether a orders strictly after b.
func (a Identity) After(b Identity) bool {
	return a.Compare(b) > 0
}

// String encodes the identity as "RFC3339Nano|startFrame". This is the
// cursor file format.
func (a Identity) String() string {
	return a.StartTime.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(a.StartFrame, 10)
}

// ParseIdentity decodes an identity produced by String.
func ParseIdentity(s string) (Identity, error) {
	ts, frame, ok := strings.Cut(strings.TrimSpace(s), "|")
	if !ok {
		return Identity{}, fmt.Errorf("parse identity %q: missing separator", s)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Identity{}, fmt.Errorf("parse identity %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frame, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("parse identity %q: %w", s, err)
	}
	return Identity{StartTime: t.UTC(), StartFrame: f}, nil
}
