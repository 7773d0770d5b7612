package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pablasso/ralph/internal/executor"
	"github.com/pablasso/ralph/internal/tui/msgs"
)

// ProgramEvents forwards loop events into a Bubble Tea program.
// It implements executor.Events.
type ProgramEvents struct {
	send func(tea.Msg)
}

// NewProgramEvents creates an events adapter. send is usually
// (*tea.Program).Send.
func NewProgramEvents(send func(tea.Msg)) *ProgramEvents {
	return &ProgramEvents{send: send}
}

func (e *ProgramEvents) OnStatus(s executor.Snapshot) {
	e.send(msgs.StatusMsg{Snapshot: s})
}

func (e *ProgramEvents) OnLog(line string) {
	e.send(msgs.LogMsg{Line: line})
}

func (e *ProgramEvents) OnCountdown(remaining int) {
	e.send(msgs.CountdownMsg{Remaining: remaining})
}

func (e *ProgramEvents) OnNotice(msg string) {
	e.send(msgs.NoticeMsg{Text: msg})
}

func (e *ProgramEvents) OnTaskCompleted(c executor.TaskCompletion) {
	e.send(msgs.TaskCompletedMsg{Completion: c})
}

// Prompter shows inactivity prompts as an overlay and waits for the key
// the operator presses. It implements executor.Prompter.
type Prompter struct {
	send func(tea.Msg)
}

// NewPrompter creates a prompter that delivers prompts through send.
func NewPrompter(send func(tea.Msg)) *Prompter {
	return &Prompter{send: send}
}

func (p *Prompter) PromptInactivity(ctx context.Context, ip executor.InactivityPrompt) (executor.Choice, error) {
	reply := make(chan executor.Choice, 1)
	p.send(msgs.InactivityPromptMsg{Prompt: ip, Reply: reply})

	select {
	case choice := <-reply:
		return choice, nil
	case <-ctx.Done():
		p.send(msgs.PromptDismissedMsg{})
		return "", ctx.Err()
	}
}
