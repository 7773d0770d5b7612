package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/pablasso/ralph/internal/executor"
)

var errNotInteractive = errors.New("stdin is not a terminal")

// pausable is the part of the status display the prompter must silence
// while the question is on screen.
type pausable interface {
	Start()
	Stop()
}

// terminalPrompter asks inactivity questions with a huh select.
type terminalPrompter struct {
	status      pausable
	interactive func() bool
}

func newTerminalPrompter(status pausable) *terminalPrompter {
	return &terminalPrompter{
		status:      status,
		interactive: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

// PromptInactivity implements executor.Prompter. Without a terminal it
// returns an error, which the loop reads as "keep waiting".
func (p *terminalPrompter) PromptInactivity(ctx context.Context, q executor.InactivityPrompt) (executor.Choice, error) {
	if !p.interactive() {
		return executor.ChoiceContinue, errNotInteractive
	}

	options := make([]huh.Option[executor.Choice], len(executor.Choices))
	for i, c := range executor.Choices {
		options[i] = huh.NewOption(c.Label(), c)
	}

	choice := executor.ChoiceContinue
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[executor.Choice]().
			Title(q.Message()).
			Options(options...).
			Value(&choice),
	))

	p.status.Stop()
	defer p.status.Start()

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return executor.ChoiceStop, nil
		}
		return executor.ChoiceContinue, fmt.Errorf("prompt failed: %w", err)
	}
	return choice, nil
}
