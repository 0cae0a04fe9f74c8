// Package syncer moves events from the local durable log to a remote
// store, exactly-once-effective.
//
// The engine never assumes the remote is idempotent. Instead it keeps a
// persisted cursor at the identity of the last confirmed upload and only
// ever sends events strictly after it, in identity order. The cursor is
// saved immediately after each confirmed upload, so a crash mid-pass
// loses at most the in-flight upload. A failed candidate stops the pass -
// skipping ahead would break resumability.
package syncer
