package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeTable renders rows with a bordered table on a terminal and as plain
// tab-aligned columns otherwise.
func writeTable(w io.Writer, headers []string, rows [][]string) error {
	if isTerminal(w) {
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			}).
			Headers(headers...).
			Rows(rows...)
		_, err := fmt.Fprintln(w, t.Render())
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

var jobHeaders = []string{"ID", "STATUS", "SERVER", "OPPONENT", "LIMIT", "DEPTH", "SCORE", "BEST", "UPDATED"}

func jobRow(j protocol.Job) []string {
	server := j.RunningOn
	if server == "" && j.PreferredServer != "" {
		server = j.PreferredServer + "*"
	}
	depth := ""
	if j.Snapshot.Depth > 0 {
		depth = fmt.Sprintf("%d", j.Snapshot.Depth)
	}
	return []string{
		j.ID,
		j.Status.String(),
		dash(server),
		dash(j.Opponent),
		j.Limit.String(),
		dash(depth),
		dash(j.Snapshot.Score.String()),
		dash(j.Snapshot.BestMove),
		ago(j.LastUpdate),
	}
}

var serverHeaders = []string{"ID", "NAME", "ADDRESS", "ENABLED", "STATUS", "JOBS", "LOAD", "SEEN"}

func serverRow(s protocol.ServerInfo) []string {
	jobs := fmt.Sprintf("%d", s.Runtime.RunningJobs)
	if limit := s.EffectiveMaxJobs(); limit > 0 {
		jobs = fmt.Sprintf("%d/%d", s.Runtime.RunningJobs, limit)
	}
	enabled := "yes"
	if !s.Enabled {
		enabled = "no"
	}
	return []string{
		s.ID,
		dash(s.Name),
		s.Addr(),
		enabled,
		s.Runtime.Status.String(),
		jobs,
		fmt.Sprintf("%.0f%%", s.Runtime.LoadPercent),
		ago(s.Runtime.LastSeen),
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	if d < time.Second {
		return "now"
	}
	return d.String() + " ago"
}
