package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilia/vigilia/internal/cursor"
	"github.com/vigilia/vigilia/internal/eventlog"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending events and last sync time",
		Long: `Report the operator view of the pipeline: total events in the local
log, how many are not yet confirmed uploaded, the sync cursor position,
and when the cursor last advanced.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	return cmd
}

type statusResult struct {
	LogPath    string     `json:"log_path"`
	TotalInLog int        `json:"total_in_log"`
	Pending    int        `json:"pending"`
	Cursor     string     `json:"cursor,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	log, cur, err := openPipeline(cfg, nil)
	if err != nil {
		return err
	}

	history := log.ReadAll()
	pending, err := pendingCount(log, cur)
	if err != nil {
		return err
	}

	result := statusResult{
		LogPath:    cfg.LogPath,
		TotalInLog: len(history),
		Pending:    pending,
	}
	if id, err := cur.Load(); err == nil && id != nil {
		result.Cursor = id.String()
		// The cursor file is rewritten on every confirmed upload, so its
		// mtime is the last successful sync time.
		if fi, err := os.Stat(cfg.CursorPath); err == nil {
			t := fi.ModTime().UTC()
			result.LastSyncAt = &t
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Log:      %s (%d event(s))\n", result.LogPath, result.TotalInLog)
	fmt.Fprintf(out, "Pending:  %d\n", result.Pending)
	if result.Cursor == "" {
		fmt.Fprintln(out, "Cursor:   (none - nothing synced yet)")
	} else {
		fmt.Fprintf(out, "Cursor:   %s\n", result.Cursor)
	}
	if result.LastSyncAt != nil {
		fmt.Fprintf(out, "Last sync: %s\n", result.LastSyncAt.Format(time.RFC3339))
	}
	return nil
}

// pendingCount counts events in the log strictly after the cursor.
func pendingCount(log *eventlog.Log, cur *cursor.Cursor) (int, error) {
	last, err := cur.Load()
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "failed to read sync cursor", err)
	}
	pending := 0
	for _, ev := range log.ReadAll() {
		if last == nil || ev.Identity().After(*last) {
			pending++
		}
	}
	return pending, nil
}
