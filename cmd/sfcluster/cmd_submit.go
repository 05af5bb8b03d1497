package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/control"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/export"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/spf13/cobra"
)

// submitConfig holds the flags of the submit command.
type submitConfig struct {
	fen      string
	moves    string
	opponent string
	limit    string
	value    int
	multiPV  int
	server   string
}

// newSubmitCmd creates the "sfcluster submit" subcommand.
func newSubmitCmd() *cobra.Command {
	var sc submitConfig

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a position for analysis",
		Long: `Queues one analysis job on the running daemon. The position is given
either as --fen or as --moves, a space separated list of UCI moves played
from the starting position. Positions are checked locally before sending.`,
		Example: `  sfcluster submit --fen "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1" --limit depth --value 24
  sfcluster submit --moves "e2e4 c7c5 g1f3" --multipv 3 --server local-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := sc.request()
			if err != nil {
				return err
			}
			client, err := daemonClient()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()

			job, err := client.Submit(ctx, req)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if job.RunningOn != "" {
				fmt.Fprintf(w, "%s queued on %s\n", job.ID, job.RunningOn)
			} else {
				fmt.Fprintf(w, "%s pending: no available server\n", job.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sc.fen, "fen", "", "position to analyse in FEN")
	cmd.Flags().StringVar(&sc.moves, "moves", "", "UCI moves from the starting position")
	cmd.Flags().StringVar(&sc.opponent, "opponent", "", "label shown with the job")
	cmd.Flags().StringVar(&sc.limit, "limit", "depth", "search limit: depth, time (ms) or nodes")
	cmd.Flags().IntVar(&sc.value, "value", protocol.DefaultLimitValue, "search limit value")
	cmd.Flags().IntVar(&sc.multiPV, "multipv", 1, "number of principal variations")
	cmd.Flags().StringVar(&sc.server, "server", "", "pin the job to this server id")
	cmd.MarkFlagsMutuallyExclusive("fen", "moves")

	return cmd
}

// request validates the flags and builds the control request.
func (sc submitConfig) request() (control.JobRequest, error) {
	if _, err := protocol.ParseLimitType(sc.limit); err != nil {
		return control.JobRequest{}, err
	}
	if sc.value <= 0 {
		return control.JobRequest{}, fmt.Errorf("--value must be positive, got %d", sc.value)
	}
	if sc.multiPV < 1 {
		return control.JobRequest{}, fmt.Errorf("--multipv must be at least 1, got %d", sc.multiPV)
	}
	fen, err := sc.position()
	if err != nil {
		return control.JobRequest{}, err
	}
	return control.JobRequest{
		Opponent:   sc.opponent,
		FEN:        fen,
		LimitType:  sc.limit,
		LimitValue: sc.value,
		MultiPV:    sc.multiPV,
		Server:     sc.server,
	}, nil
}

// position returns the FEN to analyse.
func (sc submitConfig) position() (string, error) {
	if sc.moves == "" {
		fen := strings.TrimSpace(sc.fen)
		if fen == "" {
			return "", errors.New("one of --fen or --moves is required")
		}
		if _, err := export.NewGame(fen); err != nil {
			return "", err
		}
		return fen, nil
	}

	g, err := export.NewGame("")
	if err != nil {
		return "", err
	}
	moves := strings.Fields(sc.moves)
	if n := export.PlayUCI(g, sc.moves); n != len(moves) {
		return "", fmt.Errorf("illegal move %q at ply %d", moves[n], n+1)
	}
	return g.Position().String(), nil
}
