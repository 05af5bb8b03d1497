package main

import (
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the visual styling for the dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// ServerStatusColor picks the colour of a server status badge.
func (t Theme) ServerStatusColor(s protocol.ServerStatus) lipgloss.Color {
	switch s {
	case protocol.ServerOnline:
		return t.Success
	case protocol.ServerDegraded:
		return t.Warning
	case protocol.ServerOffline:
		return t.Error
	default:
		return t.Muted
	}
}

// JobStatusColor picks the colour of a job status.
func (t Theme) JobStatusColor(s protocol.JobStatus) lipgloss.Color {
	switch s {
	case protocol.JobRunning:
		return t.Success
	case protocol.JobQueued:
		return t.Secondary
	case protocol.JobPending:
		return t.Warning
	case protocol.JobError:
		return t.Error
	default:
		return t.Muted
	}
}
