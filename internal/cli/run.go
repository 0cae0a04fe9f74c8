package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilia/vigilia/internal/detector"
	"github.com/vigilia/vigilia/internal/event"
	"github.com/vigilia/vigilia/internal/eventlog"
	"github.com/vigilia/vigilia/internal/metrics"
	"github.com/vigilia/vigilia/internal/sink"
	"github.com/vigilia/vigilia/internal/syncer"

	"github.com/prometheus/client_golang/prometheus"
)

// shutdownGrace bounds the final best-effort sync on exit.
const shutdownGrace = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detection pipeline",
		Long: `Run the full pipeline: read classifier signals from stdin as JSON
lines, debounce them into fall events, persist events to the local log,
fan them out to the configured sinks, and sync to the remote store on a
fixed interval.

Signal wire format, one JSON object per line:
  {"is_anomalous": true, "frame_index": 1042, "metadata": {"aspect_ratio": 0.62}}

Example:
  classifier --camera 0 | vigilia run --config vigilia.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	return cmd
}

// wireSignal is the stdin representation of one classifier observation.
type wireSignal struct {
	IsAnomalous bool           `json:"is_anomalous"`
	FrameIndex  int64          `json:"frame_index"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	log, cur, err := openPipeline(cfg, m)
	if err != nil {
		return err
	}
	up, upCloser, err := openUploader(cfg)
	if err != nil {
		return err
	}
	defer upCloser.Close()

	machine := detector.New(detector.Options{
		MinDuration:      cfg.MinFallDurationT(),
		DedupWindow:      cfg.DedupWindowT(),
		DisableFiltering: cfg.DisableFiltering,
	})

	engine := syncer.NewEngine(log, cur, up, syncer.Config{
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoffT(),
		UploadTimeout: cfg.UploadTimeoutT(),
	}, syncer.WithMetrics(m))
	worker := syncer.NewWorker(engine, cfg.SyncIntervalT())

	dispatcher := sink.NewDispatcher(sink.Log{})

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if cfg.MQTT.Enabled {
		alerts := sink.NewMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		})
		if err := alerts.Connect(ctx); err != nil {
			// Alerting is best-effort: the pipeline keeps events durable
			// locally even when the broker is down.
			slog.Warn("mqtt sink unavailable, continuing without it", "error", err)
		} else {
			defer alerts.Close()
			dispatcher.Add(alerts)
		}
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics endpoint failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	slog.Info("pipeline started",
		"log_path", cfg.LogPath,
		"remote", cfg.Remote.Backend,
		"sync_interval", cfg.SyncIntervalT(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Pipeline started. Reading signals from stdin.")

	readErr := consumeSignals(ctx, cmd.InOrStdin(), machine, log, dispatcher, worker, m)

	// Orderly shutdown: close any in-flight event, persist it, and give
	// sync a bounded chance to drain before exit.
	cancel()
	if ev := machine.Finalize(); ev != nil {
		handleEvent(ctx, *ev, log, dispatcher, nil, m)
	}
	<-workerDone

	graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer graceCancel()
	if n, err := engine.SyncOnce(graceCtx); err != nil {
		slog.Warn("final sync incomplete, events remain pending locally",
			"uploaded", n,
			"error", err,
		)
	}

	if readErr != nil {
		return WrapExitError(ExitFailure, "signal stream failed", readErr)
	}
	slog.Info("pipeline stopped")
	return nil
}

// consumeSignals feeds stdin into the state machine until EOF or cancel.
func consumeSignals(
	ctx context.Context,
	in io.Reader,
	machine *detector.Machine,
	log *eventlog.Log,
	dispatcher *sink.Dispatcher,
	worker *syncer.Worker,
	m *metrics.Metrics,
) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ws wireSignal
		if err := json.Unmarshal(line, &ws); err != nil {
			slog.Warn("skipping malformed signal line", "error", err)
			continue
		}

		sig := event.Signal{
			IsAnomalous: ws.IsAnomalous,
			FrameIndex:  ws.FrameIndex,
			Metadata:    ws.Metadata,
		}
		if ws.Timestamp != nil {
			sig.Timestamp = *ws.Timestamp
		}

		if ev := machine.Update(sig); ev != nil {
			handleEvent(ctx, *ev, log, dispatcher, worker, m)
		}
	}
	return scanner.Err()
}

// handleEvent persists one completed event, fans it out, and nudges sync.
// Sink failures never roll back the durable event; a failed append is a
// data-loss condition and is logged as an error.
func handleEvent(
	ctx context.Context,
	ev event.Event,
	log *eventlog.Log,
	dispatcher *sink.Dispatcher,
	worker *syncer.Worker,
	m *metrics.Metrics,
) {
	m.EventEmitted()
	if err := log.Append(ev); err != nil {
		slog.Error("failed to persist event, record lost unless retried",
			"identity", ev.Identity().String(),
			"error", err,
		)
		return
	}
	dispatcher.Dispatch(ctx, ev)
	if worker != nil {
		worker.Kick()
	}
}
