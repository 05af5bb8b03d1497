// Package main implements sfcluster-dash, the interactive cluster dashboard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/internal/appversion"
	"github.com/Volodymyr20221/stockfish-cluster/internal/config"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// robotMode writes one JSON snapshot of servers and jobs.
func robotMode(snap Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func newRootCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:           "sfcluster-dash",
		Short:         "Live dashboard for a running sfcluster daemon",
		Version:       appversion.String(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			src := newSource(cfg)

			if asJSON {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				data, err := robotMode(src.Fetch(ctx))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}

			p := tea.NewProgram(newModel(src), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one snapshot as JSON and exit")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
