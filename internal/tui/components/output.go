package components

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
)

const defaultMaxLines = 1000

// OutputViewport is a scrolling log panel. It keeps the last maxLines raw
// lines, wraps them to the panel width, follows new output until the
// operator scrolls up, and draws a scrollbar in the last column.
type OutputViewport struct {
	viewport   viewport.Model
	autoScroll bool
	rawLines   []string // unwrapped, capped at maxLines
	lines      []string // wrapped for the current width
	maxLines   int
	width      int
	height     int
}

// NewOutputViewport creates a panel of the given size. maxLines of 0 uses
// the default of 1000.
func NewOutputViewport(width, height, maxLines int) OutputViewport {
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}

	o := OutputViewport{
		autoScroll: true,
		rawLines:   make([]string, 0, 64),
		maxLines:   maxLines,
		width:      width,
		height:     height,
	}
	o.viewport = viewport.New(o.contentWidth(), height)
	o.viewport.SetContent("")
	return o
}

// contentWidth is the width left after the scrollbar column.
func (o OutputViewport) contentWidth() int {
	return max(o.width-1, 0)
}

// AddLine appends a line. Embedded newlines start new lines.
func (o *OutputViewport) AddLine(line string) {
	for _, l := range strings.Split(line, "\n") {
		if len(o.rawLines) >= o.maxLines {
			o.rawLines = o.rawLines[1:]
		}
		o.rawLines = append(o.rawLines, l)
	}
	o.rewrap()

	if o.autoScroll {
		o.viewport.GotoBottom()
	}
}

// Update handles scroll keys. Scrolling up stops following new output;
// reaching the bottom resumes it.
func (o OutputViewport) Update(msg tea.Msg) (OutputViewport, tea.Cmd) {
	var cmd tea.Cmd
	o.viewport, cmd = o.viewport.Update(msg)

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "up", "k", "pgup", "ctrl+u", "home", "g":
			o.autoScroll = false
		case "down", "j", "pgdown", "ctrl+d":
			if o.viewport.AtBottom() {
				o.autoScroll = true
			}
		case "end", "G":
			o.viewport.GotoBottom()
			o.autoScroll = true
		}
	}
	return o, cmd
}

// View returns the panel with its scrollbar.
func (o OutputViewport) View() string {
	if o.height <= 0 {
		return ""
	}

	content := strings.Split(o.viewport.View(), "\n")
	bar := scrollbar(o.viewport, len(o.lines))
	cw := o.contentWidth()

	var b strings.Builder
	for i := 0; i < o.height; i++ {
		if i > 0 {
			b.WriteByte('\n')
		}
		cl := ""
		if i < len(content) {
			cl = content[i]
		}
		b.WriteString(cl)
		if pad := cw - utf8.RuneCountInString(ansi.Strip(cl)); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		if i < len(bar) {
			b.WriteString(bar[i])
		}
	}
	return b.String()
}

// SetSize resizes the panel, rewrapping when the width changes.
func (o *OutputViewport) SetSize(width, height int) {
	if o.width == width && o.height == height {
		return
	}
	wasAtBottom := o.viewport.AtBottom()
	widthChanged := o.width != width

	o.width = width
	o.height = height
	o.viewport.Width = o.contentWidth()
	o.viewport.Height = height

	if widthChanged {
		o.rewrap()
	} else {
		o.viewport.SetYOffset(o.viewport.YOffset)
	}
	if o.autoScroll || wasAtBottom {
		o.viewport.GotoBottom()
	}
}

// AutoScroll reports whether the panel follows new output.
func (o OutputViewport) AutoScroll() bool {
	return o.autoScroll
}

// LineCount returns the number of wrapped lines held.
func (o OutputViewport) LineCount() int {
	return len(o.lines)
}

// Clear drops all lines and resumes following output.
func (o *OutputViewport) Clear() {
	o.rawLines = o.rawLines[:0]
	o.lines = nil
	o.viewport.SetContent("")
	o.autoScroll = true
}

func (o *OutputViewport) rewrap() {
	cw := o.contentWidth()
	var wrapped []string
	for _, raw := range o.rawLines {
		if cw > 0 {
			raw = ansi.Wrap(raw, cw, "/")
		}
		wrapped = append(wrapped, strings.Split(raw, "\n")...)
	}
	o.lines = wrapped
	o.viewport.SetContent(strings.Join(o.lines, "\n"))
}
