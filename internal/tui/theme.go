package tui

import "github.com/charmbracelet/lipgloss"

// Palette and reusable styles for the terminal client.
var (
	colorBright  = lipgloss.Color("#f9fafb")
	colorDimmed  = lipgloss.Color("#6b7280")
	colorAccent  = lipgloss.Color("#3b82f6")
	colorHealthy = lipgloss.Color("#22c55e")
	colorWarning = lipgloss.Color("#d97706")
	colorDanger  = lipgloss.Color("#dc2626")
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorBright)
	styleDimmed = lipgloss.NewStyle().Foreground(colorDimmed)
	styleCursor = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleChosen = lipgloss.NewStyle().Foreground(colorHealthy)
	styleError  = lipgloss.NewStyle().Foreground(colorDanger)
	styleOK     = lipgloss.NewStyle().Foreground(colorHealthy)
)

// timerStyle colors the countdown by how much time is left.
func timerStyle(remaining, total int) lipgloss.Style {
	if total <= 0 {
		return styleDimmed
	}
	frac := float64(remaining) / float64(total)
	switch {
	case frac <= 0.1:
		return lipgloss.NewStyle().Bold(true).Foreground(colorDanger)
	case frac <= 0.25:
		return lipgloss.NewStyle().Foreground(colorWarning)
	default:
		return lipgloss.NewStyle().Foreground(colorHealthy)
	}
}
