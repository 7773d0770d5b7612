package views

import (
	"github.com/charmbracelet/bubbles/key"

	"github.com/pablasso/ralph/internal/executor"
)

type loopKeyMap struct {
	Start  key.Binding
	Pause  key.Binding
	Stop   key.Binding
	Step   key.Binding
	Switch key.Binding
	Scroll key.Binding
	Quit   key.Binding
}

var loopKeys = loopKeyMap{
	Start:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "Start")),
	Pause:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "Pause")),
	Stop:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "Stop")),
	Step:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "Single step")),
	Switch: key.NewBinding(key.WithKeys("tab"), key.WithHelp("Tab", "Switch panel")),
	Scroll: key.NewBinding(
		key.WithKeys("up", "k", "pgup", "ctrl+u", "down", "j", "pgdown", "ctrl+d", "home", "g", "end", "G"),
		key.WithHelp("↑↓", "Scroll"),
	),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "Quit")),
}

// promptKeys answer the inactivity overlay.
var promptKeys = map[executor.Choice]key.Binding{
	executor.ChoiceContinue: key.NewBinding(key.WithKeys("c", "esc"), key.WithHelp("c", executor.ChoiceContinue.Label())),
	executor.ChoiceRetry:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", executor.ChoiceRetry.Label())),
	executor.ChoiceSkip:     key.NewBinding(key.WithKeys("k"), key.WithHelp("k", executor.ChoiceSkip.Label())),
	executor.ChoiceStop:     key.NewBinding(key.WithKeys("x", "ctrl+c"), key.WithHelp("x", executor.ChoiceStop.Label())),
}

// bindingsFor lists the hints shown for status.
func bindingsFor(status executor.Status, prompting bool) []key.Binding {
	if prompting {
		out := make([]key.Binding, 0, len(executor.Choices))
		for _, c := range executor.Choices {
			out = append(out, promptKeys[c])
		}
		return out
	}

	switch status {
	case executor.StatusIdle:
		return []key.Binding{loopKeys.Start, loopKeys.Step, loopKeys.Switch, loopKeys.Quit}
	case executor.StatusPaused:
		resume := loopKeys.Pause
		resume.SetHelp("p", "Resume")
		return []key.Binding{resume, loopKeys.Stop, loopKeys.Switch, loopKeys.Quit}
	default:
		return []key.Binding{loopKeys.Pause, loopKeys.Stop, loopKeys.Switch, loopKeys.Quit}
	}
}
