package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilia/vigilia/internal/event"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Limit int
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the local event log",
		Long: `Print the events recorded in the local log, oldest first. The log
file itself is plain indented JSON, so this is a convenience view; any
JSON tooling works on the file directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "show only the last N events (0 = all)")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	log, _, err := openPipeline(cfg, nil)
	if err != nil {
		return err
	}

	history := log.ReadAll()
	if opts.Limit > 0 && len(history) > opts.Limit {
		history = history[len(history)-opts.Limit:]
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(history)
	}

	out := cmd.OutOrStdout()
	if len(history) == 0 {
		fmt.Fprintln(out, "No events recorded.")
		return nil
	}
	for _, ev := range history {
		fmt.Fprintln(out, formatEventLine(ev))
	}
	return nil
}

func formatEventLine(ev event.Event) string {
	end := "?"
	if ev.EndFrame != nil {
		end = fmt.Sprintf("%d", *ev.EndFrame)
	}
	forced := ""
	if ev.FinalizedForced {
		forced = " [forced]"
	}
	return fmt.Sprintf("%s  %s  %.2fs  frames %d-%s%s",
		ev.StartTime.Format(time.RFC3339),
		ev.EventType,
		ev.DurationSeconds,
		ev.StartFrame,
		end,
		forced,
	)
}
