package components

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/pablasso/ralph/internal/tui/styles"
)

// StatusBar is the bottom line: the latest notice followed by the keys
// that apply right now.
type StatusBar struct {
	help help.Model
}

// NewStatusBar creates a status bar with the monitor's palette.
func NewStatusBar() StatusBar {
	h := help.New()
	h.ShortSeparator = " • "
	h.Styles.ShortKey = styles.SelectedStyle
	h.Styles.ShortDesc = styles.SubtleStyle
	h.Styles.ShortSeparator = styles.SubtleStyle
	h.Styles.Ellipsis = styles.SubtleStyle
	return StatusBar{help: h}
}

// Render fits notice and bindings into width. The key hints are dropped
// from the right first when space runs out.
func (s StatusBar) Render(width int, notice string, bindings []key.Binding) string {
	left := ""
	if notice != "" {
		left = styles.NoticeStyle.Render(notice) + "  "
	}

	s.help.Width = max(width-lipgloss.Width(left), 0)
	line := left + s.help.ShortHelpView(bindings)
	return lipgloss.NewStyle().Width(width).MaxWidth(width).Render(line)
}
