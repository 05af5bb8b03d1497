package main

import (
	"fmt"
	"os"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/export"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/spf13/cobra"
)

// newExportCmd creates the "sfcluster export" subcommand.
func newExportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Export a stored job as JSON or PGN",
		Long:  "Writes one job from the history database. The id may be any unique prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "pgn" {
				return fmt.Errorf("unknown format %q (want json or pgn)", format)
			}
			ctx := cmd.Context()
			store, closeDB, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			job, err := store.FindJob(ctx, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output) //nolint:gosec // path comes from the user
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if format == "pgn" {
				return export.PGN(w, job)
			}
			return export.JSON(w, []protocol.Job{job})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or pgn")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")

	return cmd
}
