package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/vigilia/vigilia/internal/config"
	"github.com/vigilia/vigilia/internal/cursor"
	"github.com/vigilia/vigilia/internal/eventlog"
	"github.com/vigilia/vigilia/internal/metrics"
	"github.com/vigilia/vigilia/internal/syncer"
	"github.com/vigilia/vigilia/internal/uploader"
)

// setupLogging installs the process-wide slog handler.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig resolves the configuration for a command.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// openUploader builds the configured remote backend. The returned closer
// is a no-op for backends without a connection.
func openUploader(cfg config.Config) (syncer.Uploader, io.Closer, error) {
	switch cfg.Remote.Backend {
	case config.BackendHTTP:
		up := uploader.NewHTTP(cfg.Remote.URL)
		return up, nopCloser{}, nil
	case config.BackendSQLite:
		up, err := uploader.OpenSQLite(cfg.Remote.Path)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open archive database", err)
		}
		return up, up, nil
	default:
		return nil, nil, WrapExitError(ExitCommandError,
			"no remote backend configured (set remote.backend to http or sqlite)", nil)
	}
}

// openPipeline builds the storage side shared by sync and status.
func openPipeline(cfg config.Config, m *metrics.Metrics) (*eventlog.Log, *cursor.Cursor, error) {
	logOpts := []eventlog.Option{}
	if m != nil {
		logOpts = append(logOpts, eventlog.WithQuarantineHook(func(string) {
			m.LogQuarantined()
		}))
	}
	log, err := eventlog.Open(cfg.LogPath, logOpts...)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open event log", err)
	}
	return log, cursor.New(cfg.CursorPath), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
