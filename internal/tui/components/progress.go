package components

import (
	"fmt"
	"strings"

	"github.com/pablasso/ralph/internal/plan"
	"github.com/pablasso/ralph/internal/tui/styles"
)

// TaskBar draws task list completion, e.g. "■■■■□□□□ 50%".
type TaskBar struct {
	Stats plan.Stats
	// Width is the number of cells in the bar itself.
	Width int
}

// NewTaskBar creates a bar for stats.
func NewTaskBar(stats plan.Stats, width int) TaskBar {
	return TaskBar{Stats: stats, Width: width}
}

// Percent is the completed share rounded down, 0 for an empty list.
func (b TaskBar) Percent() int {
	if b.Stats.Total <= 0 {
		return 0
	}
	done := min(max(b.Stats.Completed, 0), b.Stats.Total)
	return done * 100 / b.Stats.Total
}

// View renders the bar, or "" when there is nothing to show.
func (b TaskBar) View() string {
	if b.Stats.Total <= 0 || b.Width <= 0 {
		return ""
	}
	done := min(max(b.Stats.Completed, 0), b.Stats.Total)
	filled := done * b.Width / b.Stats.Total

	return fmt.Sprintf("%s%s %d%%",
		styles.BarFilledStyle.Render(strings.Repeat("■", filled)),
		styles.BarEmptyStyle.Render(strings.Repeat("□", b.Width-filled)),
		b.Percent())
}
