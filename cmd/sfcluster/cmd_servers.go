package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newServersCmd creates the "sfcluster servers" subcommand and its
// enable/disable children.
func newServersCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List servers with their observed state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()

			servers, err := client.Servers(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(servers)
			}
			rows := make([][]string, 0, len(servers))
			for _, s := range servers {
				rows = append(rows, serverRow(s))
			}
			return writeTable(w, serverHeaders, rows)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	cmd.AddCommand(newServerToggleCmd(true), newServerToggleCmd(false))
	return cmd
}

func newServerToggleCmd(enabled bool) *cobra.Command {
	use, short := "disable", "Stop dispatching new jobs to a server"
	if enabled {
		use, short = "enable", "Allow dispatching to a server again"
	}
	return &cobra.Command{
		Use:   use + " <server-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()

			if err := client.SetServerEnabled(ctx, args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server %s %sd\n", args[0], use)
			return nil
		},
	}
}
