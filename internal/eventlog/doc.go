// Package eventlog provides crash-safe persistence for completed fall
// events as a human-inspectable JSON array on local disk.
//
// Every append rewrites the whole array to a temporary file in the same
// directory, fsyncs it, and atomically renames it over the destination.
// A reader therefore always observes a complete, consistent snapshot -
// either the old sequence or the new one, never a half-written file.
//
// Corruption never blocks forward progress: an unreadable log is moved
// aside to a timestamped quarantine file and reading continues with an
// empty sequence. The quarantined original is preserved for forensics.
package eventlog
