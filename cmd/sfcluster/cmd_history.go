package main

import (
	"context"
	"fmt"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/history"

	"github.com/spf13/cobra"
)

// openHistory opens the configured history database.
func openHistory(ctx context.Context) (*history.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return nil, nil, err
	}
	return history.New(db), func() { _ = db.Close() }, nil
}

// newHistoryCmd creates the "sfcluster history" subcommand.
func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		status string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs from the history database",
		Long:  "Lists stored jobs, newest first. Reads the database directly; the daemon need not run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, closeDB, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			jobs, err := store.LoadJobs(ctx, limit)
			if err != nil {
				return err
			}
			if jobs, err = filterStatus(jobs, status); err != nil {
				return err
			}
			return printJobs(cmd, jobs, asJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of jobs to show (0 = all)")
	cmd.Flags().StringVar(&status, "status", "", "only jobs with this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}
