package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/eventlog"

	"github.com/spf13/cobra"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	job    string
	server string
	typ    string
	since  time.Duration
	tail   int
}

// newLogsCmd creates the "sfcluster logs" subcommand.
func newLogsCmd() *cobra.Command {
	var lc logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the job and server event log",
		Long:  "Displays events from the event log, oldest first.\nReads the database directly; the daemon need not run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			r, err := eventlog.NewReader(cfg.HistoryDB)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer r.Close()

			return printEvents(cmd.Context(), r, cmd.OutOrStdout(), lc)
		},
	}

	cmd.Flags().StringVar(&lc.job, "job", "", "only events for this job id")
	cmd.Flags().StringVar(&lc.server, "server", "", "only events for this server id")
	cmd.Flags().StringVar(&lc.typ, "type", "", "only events of this type (job_added, job_status, job_removed, server_online, server_offline)")
	cmd.Flags().DurationVar(&lc.since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().IntVar(&lc.tail, "tail", 50, "number of recent events to show (0 = all)")

	return cmd
}

// printEvents queries and displays matching events.
func printEvents(ctx context.Context, r *eventlog.Reader, w io.Writer, lc logsConfig) error {
	opts := eventlog.QueryOpts{
		JobID:    lc.job,
		ServerID: lc.server,
		Type:     lc.typ,
		Limit:    lc.tail,
	}
	if lc.since > 0 {
		after := time.Now().Add(-lc.since)
		opts.After = &after
	}
	events, err := r.Query(ctx, opts)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}
	// Query returns newest first.
	for i := len(events) - 1; i >= 0; i-- {
		formatEvent(w, &events[i])
	}
	return nil
}

func formatEvent(w io.Writer, e *eventlog.Event) {
	fmt.Fprintf(w, "[%s] %s", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Type)
	if e.JobID != "" {
		fmt.Fprintf(w, " job=%s", e.JobID)
	}
	if e.ServerID != "" {
		fmt.Fprintf(w, " server=%s", e.ServerID)
	}
	if e.Status != "" {
		fmt.Fprintf(w, " status=%s", e.Status)
	}
	if e.Payload != "" {
		fmt.Fprintf(w, " %s", e.Payload)
	}
	fmt.Fprintln(w)
}
