// Package styles holds the lipgloss palette of the loop monitor.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pablasso/ralph/internal/executor"
)

var (
	accent  = lipgloss.Color("#5FAFAF")
	muted   = lipgloss.Color("#666666")
	good    = lipgloss.Color("#87AF87")
	warning = lipgloss.Color("#D7AF5F")

	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)

	SubtleStyle = lipgloss.NewStyle().Foreground(muted)

	// SelectedStyle marks the current task and the focused panel header.
	SelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)

	SuccessStyle = lipgloss.NewStyle().Foreground(good)

	NoticeStyle = lipgloss.NewStyle().Bold(true).Foreground(warning)

	// PanelStyle frames the status and output panels.
	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1)

	// FocusedPanelStyle frames the panel that receives scroll keys.
	FocusedPanelStyle = PanelStyle.BorderForeground(accent)

	// OverlayStyle frames the inactivity question.
	OverlayStyle = PanelStyle.BorderForeground(warning)

	BarFilledStyle = lipgloss.NewStyle().Foreground(good)
	BarEmptyStyle  = lipgloss.NewStyle().Foreground(muted)
)

// Status returns the style for a loop status label.
func Status(s executor.Status) lipgloss.Style {
	switch s {
	case executor.StatusRunning, executor.StatusWaiting:
		return SelectedStyle
	case executor.StatusPaused:
		return NoticeStyle
	default:
		return SubtleStyle
	}
}
