package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/x/ansi"
)

func bindings() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "Start")),
		key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "Single step")),
		key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "Quit")),
	}
}

func TestStatusBar_RendersKeyHints(t *testing.T) {
	got := ansi.Strip(NewStatusBar().Render(80, "", bindings()))

	if !strings.Contains(got, "s Start • n Single step • q Quit") {
		t.Errorf("unexpected hints: %q", got)
	}
}

func TestStatusBar_NoticeComesFirst(t *testing.T) {
	got := ansi.Strip(NewStatusBar().Render(80, "No pending tasks", bindings()))

	if !strings.HasPrefix(got, "No pending tasks") {
		t.Errorf("notice should lead the bar: %q", got)
	}
	if !strings.Contains(got, "q Quit") {
		t.Errorf("hints should follow the notice: %q", got)
	}
}

func TestStatusBar_DisabledBindingsHidden(t *testing.T) {
	b := bindings()
	b[1].SetEnabled(false)

	got := ansi.Strip(NewStatusBar().Render(80, "", b))
	if strings.Contains(got, "Single step") {
		t.Errorf("disabled binding shown: %q", got)
	}
}

func TestStatusBar_FitsWidth(t *testing.T) {
	got := NewStatusBar().Render(20, "a rather long notice text", bindings())

	for _, line := range strings.Split(got, "\n") {
		if w := ansi.StringWidth(line); w > 20 {
			t.Errorf("line width %d exceeds 20: %q", w, line)
		}
	}
}

func TestStatusBar_Empty(t *testing.T) {
	got := ansi.Strip(NewStatusBar().Render(10, "", nil))
	if strings.TrimSpace(got) != "" {
		t.Errorf("expected a blank bar, got %q", got)
	}
}
