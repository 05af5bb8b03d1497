package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/internal/appversion"
	"github.com/Volodymyr20221/stockfish-cluster/internal/config"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/control"

	"github.com/spf13/cobra"
)

const clientTimeout = 10 * time.Second

// newRootCmd creates the root sfcluster command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sfcluster",
		Short:         "Distributed chess analysis dispatcher",
		Long:          "sfcluster spreads chess analysis jobs over a roster of remote engine servers.\nRun the daemon with 'sfcluster run', then submit and inspect jobs from any shell.",
		Version:       fmt.Sprintf("sfcluster %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newSubmitCmd(),
		newJobOpCmd(control.OpStop, "Stop a job; the server is told to cancel it"),
		newJobOpCmd(control.OpRemove, "Remove a job from the active set"),
		newJobOpCmd(control.OpFetch, "Ask the job's server for its full state"),
		newJobsCmd(),
		newServersCmd(),
		newHistoryCmd(),
		newLogsCmd(),
		newExportCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "sfcluster %s\n", appversion.String())
			if rev := appversion.Revision(); rev != "" {
				fmt.Fprintf(w, "revision %s\n", rev)
			}
		},
	}
}

// loadConfig is a seam for tests.
var loadConfig = config.Load

// daemonClient returns a control client for the configured socket.
func daemonClient() (*control.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return control.NewClient(cfg.SocketPath), nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, clientTimeout)
}
