// Package ui holds the terminal dashboard for the task queue: a bubbletea
// model that polls the store and renders counts and recent tasks.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Semantic colors for the dashboard.
var (
	colorAccent  = lipgloss.Color("#8BC34A") // lime
	colorMuted   = lipgloss.Color("241")
	colorError   = lipgloss.Color("#e53935") // red
	colorWarning = lipgloss.Color("#FFC107") // yellow
	colorInfo    = lipgloss.Color("#2196F3") // blue
)

// Styles bundles the lipgloss styles the watch view uses.
type Styles struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Spinner lipgloss.Style
	Help    lipgloss.Style
}

// DefaultStyles returns the dashboard styling.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Header:  lipgloss.NewStyle().Bold(true),
		Body:    lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Error:   lipgloss.NewStyle().Foreground(colorError),
		Success: lipgloss.NewStyle().Foreground(colorAccent),
		Warning: lipgloss.NewStyle().Foreground(colorWarning),
		Info:    lipgloss.NewStyle().Foreground(colorInfo),
		Spinner: lipgloss.NewStyle().Foreground(colorAccent),
		Help:    lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// statusStyle maps a task status to its display style.
func (s Styles) statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return s.Success
	case "failed":
		return s.Error
	case "in_progress", "claimed":
		return s.Info
	case "pending":
		return s.Warning
	default:
		return s.Body
	}
}
