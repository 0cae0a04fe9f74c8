package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vigilia/vigilia/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the remote store",
		Long: `Upload all pending events from the local log to the configured
remote store and advance the sync cursor. Safe to run while the pipeline
is down; this is the recovery path after prolonged remote outages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	return cmd
}

type syncResult struct {
	Uploaded int `json:"uploaded"`
	Pending  int `json:"pending"`
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	log, cur, err := openPipeline(cfg, nil)
	if err != nil {
		return err
	}
	up, upCloser, err := openUploader(cfg)
	if err != nil {
		return err
	}
	defer upCloser.Close()

	engine := syncer.NewEngine(log, cur, up, syncer.Config{
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoffT(),
		UploadTimeout: cfg.UploadTimeoutT(),
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	uploaded, syncErr := engine.SyncOnce(ctx)
	pending, err := pendingCount(log, cur)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		formatter.Success(syncResult{Uploaded: uploaded, Pending: pending})
	} else {
		formatter.Successf("Uploaded %d event(s), %d pending.", uploaded, pending)
	}

	if syncErr != nil {
		return WrapExitError(ExitFailure, "sync pass incomplete", syncErr)
	}
	return nil
}
