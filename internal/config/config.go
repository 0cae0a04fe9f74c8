// Package config holds the explicit pipeline configuration. There is no
// ambient or global state: constructors receive the values they need from
// a Config loaded here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Remote backend names.
const (
	BackendNone   = "none"
	BackendHTTP   = "http"
	BackendSQLite = "sqlite"
)

// Config is the full pipeline configuration. Durations are expressed in
// seconds to match the historical configuration surface.
type Config struct {
	// MinFallDuration is the shortest anomalous run (seconds) that counts
	// as a real event.
	MinFallDuration float64 `yaml:"min_fall_duration" json:"min_fall_duration"`
	// DedupWindow groups runs closer than this many seconds into one event.
	DedupWindow float64 `yaml:"dedup_window" json:"dedup_window"`
	// SyncInterval is the period (seconds) between scheduled sync passes.
	SyncInterval float64 `yaml:"sync_interval" json:"sync_interval"`
	// MaxRetries is the upload attempts per event per sync pass.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryBackoff is the linear backoff base (seconds) between attempts.
	RetryBackoff float64 `yaml:"retry_backoff" json:"retry_backoff"`
	// UploadTimeout bounds each upload attempt (seconds).
	UploadTimeout float64 `yaml:"upload_timeout" json:"upload_timeout"`

	// LogPath is the local event log file.
	LogPath string `yaml:"log_path" json:"log_path"`
	// CursorPath is the sync cursor file.
	CursorPath string `yaml:"cursor_path" json:"cursor_path"`

	// DisableFiltering restores the unfiltered legacy emission behavior.
	DisableFiltering bool `yaml:"disable_filtering" json:"disable_filtering"`

	// MetricsAddr is the Prometheus listen address. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	Remote Remote `yaml:"remote" json:"remote"`
	MQTT   MQTT   `yaml:"mqtt" json:"mqtt"`
}

// Remote selects and configures the uploader backend.
type Remote struct {
	// Backend is one of "none", "http", "sqlite".
	Backend string `yaml:"backend" json:"backend"`
	// URL is the collection URL for the http backend.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Path is the database path for the sqlite backend.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// MQTT configures the optional alert sink.
type MQTT struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Broker is the broker address as host:port.
	Broker   string `yaml:"broker,omitempty" json:"broker,omitempty"`
	Topic    string `yaml:"topic,omitempty" json:"topic,omitempty"`
	ClientID string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
}

// Default returns the safe defaults, matching the historical environment
// defaults (0.5s minimum fall, 2.0s dedup window, 10s sync interval).
func Default() Config {
	return Config{
		MinFallDuration: 0.5,
		DedupWindow:     2.0,
		SyncInterval:    10,
		MaxRetries:      3,
		RetryBackoff:    1.0,
		UploadTimeout:   10,
		LogPath:         "outputs/events_log.json",
		CursorPath:      "outputs/.events_log.json.state",
		MetricsAddr:     "",
		Remote:          Remote{Backend: BackendNone},
		MQTT:            MQTT{Enabled: false},
	}
}

// Load reads a YAML config file over the defaults and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Duration accessors. The stored unit is seconds.

func (c Config) MinFallDurationT() time.Duration { return secs(c.MinFallDuration) }
func (c Config) DedupWindowT() time.Duration     { return secs(c.DedupWindow) }
func (c Config) SyncIntervalT() time.Duration    { return secs(c.SyncInterval) }
func (c Config) RetryBackoffT() time.Duration    { return secs(c.RetryBackoff) }
func (c Config) UploadTimeoutT() time.Duration   { return secs(c.UploadTimeout) }

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
