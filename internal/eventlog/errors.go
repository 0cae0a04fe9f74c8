package eventlog

import (
	"errors"
	"fmt"
)

// WriteError reports a failed durable write (disk full, permissions,
// unserializable event). The pre-existing log file is intact whenever a
// WriteError is returned.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("event log write failed (%s): %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsWriteError reports whether err is (or wraps) a WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
