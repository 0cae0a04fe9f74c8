// Package metrics exposes the operator view of the pipeline as Prometheus
// collectors: how many events are waiting to sync, when the last sync
// succeeded, and how often uploads and log quarantines happen.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the pipeline collectors. A nil *Metrics is valid and
// turns every observation into a no-op, so components can carry one
// without caring whether metrics are enabled.
type Metrics struct {
	eventsEmitted  prometheus.Counter
	eventsUploaded prometheus.Counter
	uploadFailures prometheus.Counter
	pendingEvents  prometheus.Gauge
	lastSyncTime   prometheus.Gauge
	logQuarantines prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigilia_events_emitted_total",
			Help: "Completed fall events emitted by the detector.",
		}),
		eventsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigilia_events_uploaded_total",
			Help: "Events confirmed uploaded to the remote store.",
		}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigilia_upload_failures_total",
			Help: "Individual upload attempts that failed.",
		}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigilia_pending_events",
			Help: "Events in the local log not yet confirmed uploaded.",
		}),
		lastSyncTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigilia_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful upload.",
		}),
		logQuarantines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigilia_log_quarantines_total",
			Help: "Corrupt event log files moved aside.",
		}),
	}
	reg.MustRegister(
		m.eventsEmitted,
		m.eventsUploaded,
		m.uploadFailures,
		m.pendingEvents,
		m.lastSyncTime,
		m.logQuarantines,
	)
	return m
}

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EventEmitted records one completed event handed to the sinks/log.
func (m *Metrics) EventEmitted() {
	if m == nil {
		return
	}
	m.eventsEmitted.Inc()
}

// EventUploaded records one confirmed upload at time t.
func (m *Metrics) EventUploaded(t time.Time) {
	if m == nil {
		return
	}
	m.eventsUploaded.Inc()
	m.lastSyncTime.Set(float64(t.Unix()))
}

// UploadFailed records one failed upload attempt.
func (m *Metrics) UploadFailed() {
	if m == nil {
		return
	}
	m.uploadFailures.Inc()
}

// SetPending records the current count of unsynced events.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingEvents.Set(float64(n))
}

// LogQuarantined records one quarantined log file.
func (m *Metrics) LogQuarantined() {
	if m == nil {
		return
	}
	m.logQuarantines.Inc()
}
