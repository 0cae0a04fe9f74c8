// Package detector turns a noisy per-frame boolean anomaly stream into
// stable, deduplicated fall events.
//
// The Machine is a two-state debouncer (NORMAL, ANOMALOUS). A completed
// anomalous run becomes an event only if it lasted at least the minimum
// duration; runs separated by a gap shorter than the dedup window are
// merged into a single event. To make merging possible the machine holds
// the most recently completed event as a candidate until the dedup window
// has definitively elapsed, so emission lags the underlying transition by
// at most one window.
//
// The machine is pure logic: no I/O, no goroutines. Callers persist and
// fan out whatever Update and Finalize return.
package detector
