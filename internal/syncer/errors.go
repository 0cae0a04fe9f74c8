package syncer

import (
	"errors"
	"fmt"

	"github.com/vigilia/vigilia/internal/event"
)

// ErrSyncInProgress is returned by SyncOnce when another pass is already
// running. The caller should drop the trigger, not queue it.
var ErrSyncInProgress = errors.New("sync pass already in progress")

// UploadError reports an event that exhausted its retries. The event is
// still pending: it stays in the local log and leads the next pass.
type UploadError struct {
	Identity event.Identity
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of event %s failed after %d attempts: %v", e.Identity, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsUploadError reports whether err is (or wraps) an UploadError.
func IsUploadError(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue)
}
