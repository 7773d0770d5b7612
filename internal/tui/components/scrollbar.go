package components

import (
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/pablasso/ralph/internal/tui/styles"
)

const (
	scrollTrack = "│"
	scrollThumb = "█"
)

// scrollbar returns one cell per visible row of vp. Rows are blank while
// all total lines fit; otherwise the thumb size tracks the visible share
// and its position tracks vp's scroll percent.
func scrollbar(vp viewport.Model, total int) []string {
	height := vp.Height
	if height <= 0 {
		return nil
	}

	cells := make([]string, height)
	if total <= height {
		for i := range cells {
			cells[i] = " "
		}
		return cells
	}

	thumb := max(height*height/total, 1)
	top := int(vp.ScrollPercent() * float64(height-thumb))
	top = min(max(top, 0), height-thumb)

	track := styles.SubtleStyle.Render(scrollTrack)
	bar := styles.SelectedStyle.Render(scrollThumb)
	for i := range cells {
		if i >= top && i < top+thumb {
			cells[i] = bar
		} else {
			cells[i] = track
		}
	}
	return cells
}
