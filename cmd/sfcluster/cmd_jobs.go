package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/control"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/spf13/cobra"
)

// newJobOpCmd creates a one-argument job command (stop, remove, fetch).
func newJobOpCmd(op control.Op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(op) + " <job-id>",
		Short: short,
		Long:  short + ".\nThe id may be any unique prefix of an active job id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()

			id, err := resolveJobID(ctx, client, args[0])
			if err != nil {
				return err
			}
			if err := client.JobOp(ctx, op, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", op, id)
			return nil
		},
	}
}

// jobLister is the part of the control client resolveJobID needs.
type jobLister interface {
	Jobs(ctx context.Context) ([]protocol.Job, error)
}

// resolveJobID expands a prefix to the one active job id it names.
func resolveJobID(ctx context.Context, client jobLister, prefix string) (string, error) {
	jobs, err := client.Jobs(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, j := range jobs {
		if j.ID == prefix {
			return j.ID, nil
		}
		if strings.HasPrefix(j.ID, prefix) {
			matches = append(matches, j.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", &protocol.JobNotFoundError{JobID: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("job id %q is ambiguous: %s", prefix, strings.Join(matches, ", "))
	}
}

// jobsConfig holds the flags of the jobs command.
type jobsConfig struct {
	all    bool
	status string
	json   bool
}

// newJobsCmd creates the "sfcluster jobs" subcommand.
func newJobsCmd() *cobra.Command {
	var jc jobsConfig

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the daemon's active jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()

			jobs, err := client.Jobs(ctx)
			if err != nil {
				return err
			}
			if jc.all {
				if jobs, err = withHistory(ctx, jobs); err != nil {
					return err
				}
			}
			jobs, err = filterStatus(jobs, jc.status)
			if err != nil {
				return err
			}
			sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
			return printJobs(cmd, jobs, jc.json)
		},
	}

	cmd.Flags().BoolVar(&jc.all, "all", false, "include finished jobs from the history database")
	cmd.Flags().StringVar(&jc.status, "status", "", "only jobs with this status (e.g. running, queued)")
	cmd.Flags().BoolVar(&jc.json, "json", false, "print JSON instead of a table")

	return cmd
}

// withHistory appends stored jobs that are no longer active.
func withHistory(ctx context.Context, active []protocol.Job) ([]protocol.Job, error) {
	store, closeDB, err := openHistory(ctx)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	stored, err := store.LoadAllJobs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(active))
	for _, j := range active {
		seen[j.ID] = true
	}
	for _, j := range stored {
		if !seen[j.ID] {
			active = append(active, j)
		}
	}
	return active, nil
}

// filterStatus keeps jobs whose status name matches, case-insensitively.
func filterStatus(jobs []protocol.Job, status string) ([]protocol.Job, error) {
	if status == "" {
		return jobs, nil
	}
	known := false
	for s := protocol.JobPending; s <= protocol.JobStopped; s++ {
		if strings.EqualFold(s.String(), status) {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	out := jobs[:0:0]
	for _, j := range jobs {
		if strings.EqualFold(j.Status.String(), status) {
			out = append(out, j)
		}
	}
	return out, nil
}

func printJobs(cmd *cobra.Command, jobs []protocol.Job, asJSON bool) error {
	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if jobs == nil {
			jobs = []protocol.Job{}
		}
		return enc.Encode(jobs)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs")
		return nil
	}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, jobRow(j))
	}
	return writeTable(w, jobHeaders, rows)
}
