package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/control"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = 2 * time.Second
	actionTimeout   = 5 * time.Second
)

// tickMsg triggers the periodic refresh.
type tickMsg time.Time

// snapshotMsg carries a fresh snapshot.
type snapshotMsg Snapshot

// actionMsg reports the outcome of a stop or remove.
type actionMsg struct {
	op  control.Op
	id  string
	err error
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetcher is the data side of the dashboard.
type fetcher interface {
	Fetch(ctx context.Context) Snapshot
	JobOp(ctx context.Context, op control.Op, id string) error
}

func fetchCmd(src fetcher) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
		defer cancel()
		return snapshotMsg(src.Fetch(ctx))
	}
}

func jobOpCmd(src fetcher, op control.Op, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{op: op, id: id, err: src.JobOp(ctx, op, id)}
	}
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	src     fetcher
	watcher *dbWatcher
	theme   Theme
	keys    keyMap
	help    help.Model
	jobs    table.Model

	snap   Snapshot
	rowIDs []string // job id per table row
	status string   // result of the last action

	width  int
	height int
}

var jobColumns = []table.Column{
	{Title: "ID", Width: 18},
	{Title: "Status", Width: 10},
	{Title: "Server", Width: 12},
	{Title: "Opponent", Width: 14},
	{Title: "Limit", Width: 12},
	{Title: "Depth", Width: 6},
	{Title: "Score", Width: 9},
	{Title: "Best", Width: 7},
	{Title: "PV", Width: 30},
}

func newModel(src fetcher) Model {
	theme := DefaultTheme()
	t := table.New(
		table.WithColumns(jobColumns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.Muted).
		BorderBottom(true).
		Bold(true).
		Foreground(theme.Primary)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("230")).Background(theme.Primary)
	t.SetStyles(styles)

	m := Model{
		src:   src,
		theme: theme,
		keys:  defaultKeyMap(),
		help:  help.New(),
		jobs:  t,
	}
	if s, ok := src.(*Source); ok {
		m.watcher = newDBWatcher(s.historyDir())
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.src), tickCmd(), m.watcher.Next())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.jobs.SetHeight(m.tableHeight())

	case snapshotMsg:
		m.applySnapshot(Snapshot(msg))

	case actionMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s %s failed: %v", msg.op, msg.id, msg.err)
		} else {
			m.status = fmt.Sprintf("%s %s sent", msg.op, msg.id)
		}
		return m, fetchCmd(m.src)

	case fsChangeMsg:
		return m, tea.Batch(fetchCmd(m.src), m.watcher.Next())

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.src), tickCmd())
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		_ = m.watcher.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Refresh):
		return m, fetchCmd(m.src)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.jobs.SetHeight(m.tableHeight())
		return m, nil
	case key.Matches(msg, m.keys.Stop):
		return m.jobAction(control.OpStop)
	case key.Matches(msg, m.keys.Remove):
		return m.jobAction(control.OpRemove)
	}
	var cmd tea.Cmd
	m.jobs, cmd = m.jobs.Update(msg)
	return m, cmd
}

// jobAction applies op to the selected job. Stored jobs are not active on
// the daemon and are skipped.
func (m Model) jobAction(op control.Op) (tea.Model, tea.Cmd) {
	id, active := m.selected()
	switch {
	case id == "":
		m.status = "no job selected"
		return m, nil
	case !active:
		m.status = id + " is no longer active"
		return m, nil
	}
	m.status = fmt.Sprintf("%s %s...", op, id)
	return m, jobOpCmd(m.src, op, id)
}

// selected returns the id under the cursor and whether it is an active job.
func (m Model) selected() (string, bool) {
	i := m.jobs.Cursor()
	if i < 0 || i >= len(m.rowIDs) {
		return "", false
	}
	id := m.rowIDs[i]
	for _, j := range m.snap.Jobs {
		if j.ID == id {
			return id, true
		}
	}
	return id, false
}

// applySnapshot replaces the table rows and keeps the cursor on the same
// job when it is still listed.
func (m *Model) applySnapshot(snap Snapshot) {
	prev, _ := m.selected()
	m.snap = snap

	rows := make([]table.Row, 0, len(snap.Jobs)+len(snap.Recent))
	ids := make([]string, 0, cap(rows))
	for _, list := range [][]protocol.Job{snap.Jobs, snap.Recent} {
		for _, j := range list {
			rows = append(rows, jobRow(j))
			ids = append(ids, j.ID)
		}
	}
	m.rowIDs = ids
	m.jobs.SetRows(rows)

	cursor := 0
	for i, id := range ids {
		if id == prev {
			cursor = i
			break
		}
	}
	if len(rows) > 0 {
		m.jobs.SetCursor(cursor)
	}
}

func jobRow(j protocol.Job) table.Row {
	server := j.RunningOn
	if server == "" {
		server = j.PreferredServer
	}
	depth := ""
	if j.Snapshot.Depth > 0 {
		depth = strconv.Itoa(j.Snapshot.Depth)
	}
	return table.Row{
		j.ID,
		j.Status.String(),
		server,
		j.Opponent,
		j.Limit.String(),
		depth,
		j.Snapshot.Score.String(),
		j.Snapshot.BestMove,
		j.Snapshot.PV,
	}
}

// tableHeight leaves room for the status bar, servers panel and help.
func (m Model) tableHeight() int {
	used := 4 + len(m.snap.Servers) + 3
	if m.help.ShowAll {
		used += 3
	}
	if h := m.height - used; h > 3 {
		return h
	}
	return 3
}

// View implements tea.Model.
func (m Model) View() string {
	parts := []string{
		m.renderStatusBar(),
		m.renderServers(),
		m.jobs.View(),
	}
	if m.status != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.Muted).Render(m.status))
	}
	parts = append(parts, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderStatusBar shows daemon health and aggregate job counts.
func (m Model) renderStatusBar() string {
	var daemonStatus string
	if m.snap.DaemonOnline {
		daemonStatus = lipgloss.NewStyle().Foreground(m.theme.Success).Render("daemon: online")
	} else {
		daemonStatus = lipgloss.NewStyle().Foreground(m.theme.Error).Render("daemon: offline")
	}

	var running, pending int
	for _, j := range m.snap.Jobs {
		switch j.Status {
		case protocol.JobRunning, protocol.JobQueued:
			running++
		case protocol.JobPending:
			pending++
		}
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Left,
		daemonStatus,
		lipgloss.NewStyle().Render(" | Servers: "),
		lipgloss.NewStyle().Foreground(m.theme.Primary).Render(strconv.Itoa(len(m.snap.Servers))),
		lipgloss.NewStyle().Render(" | Running: "),
		lipgloss.NewStyle().Foreground(m.theme.Success).Render(strconv.Itoa(running)),
		lipgloss.NewStyle().Render(" | Pending: "),
		lipgloss.NewStyle().Foreground(m.theme.Warning).Render(strconv.Itoa(pending)),
		lipgloss.NewStyle().Render(" | History: "),
		lipgloss.NewStyle().Foreground(m.theme.Muted).Render(strconv.Itoa(len(m.snap.Recent))),
	)
}

// renderServers draws one line per server: status badge, load and jobs.
func (m Model) renderServers() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.Muted).
		Padding(0, 1)

	if len(m.snap.Servers) == 0 {
		msg := "No servers"
		if m.snap.Err != "" {
			msg = m.snap.Err
		}
		return box.Render(lipgloss.NewStyle().Foreground(m.theme.Muted).Render(msg))
	}

	lines := make([]string, 0, len(m.snap.Servers))
	for _, s := range m.snap.Servers {
		badge := lipgloss.NewStyle().Foreground(m.theme.ServerStatusColor(s.Runtime.Status)).Render("●")
		jobs := strconv.Itoa(s.Runtime.RunningJobs)
		if limit := s.EffectiveMaxJobs(); limit > 0 {
			jobs += "/" + strconv.Itoa(limit)
		}
		name := s.ID
		if s.Name != "" {
			name += " (" + s.Name + ")"
		}
		line := fmt.Sprintf("%s %-28s %-21s %-9s jobs %-5s load %3.0f%%",
			badge, truncate(name, 28), s.Addr(), s.Runtime.Status, jobs, s.Runtime.LoadPercent)
		if !s.Enabled {
			line = lipgloss.NewStyle().Foreground(m.theme.Muted).Render(line + "  disabled")
		}
		lines = append(lines, line)
	}
	return box.Render(strings.Join(lines, "\n"))
}

// truncate shortens s to width runes with an ellipsis.
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
