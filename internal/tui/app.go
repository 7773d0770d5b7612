// Package tui is the interactive operator surface for the loop.
package tui

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pablasso/ralph/internal/config"
	"github.com/pablasso/ralph/internal/executor"
	"github.com/pablasso/ralph/internal/logging"
	"github.com/pablasso/ralph/internal/tui/msgs"
	"github.com/pablasso/ralph/internal/tui/views"
)

// Model is the top-level Bubble Tea model.
type Model struct {
	loop views.LoopModel
}

// NewModel wraps the loop monitor for ctrl.
func NewModel(ctrl views.Controller, ledgerName string) Model {
	return Model{loop: views.NewLoopModel(ctrl, ledgerName)}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.loop.Init()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.loop, cmd = m.loop.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	return m.loop.View()
}

// Run builds an orchestrator around the TUI and blocks until the operator
// quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	logger := logging.OrDiscard(opts.Logger)
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Static(config.Default())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := &ProgramEvents{}
	prompter := &Prompter{}
	orch := executor.NewOrchestrator(executor.Options{
		Root:       opts.Root,
		Config:     cfg,
		Dispatcher: opts.Dispatcher,
		Events:     events,
		Prompter:   prompter,
		Metrics:    opts.Metrics,
		Logger:     logger,
	})

	program := tea.NewProgram(
		NewModel(orch, cfg.Load().PRDPath),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	events.send = program.Send
	prompter.send = program.Send

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		if err := orch.Run(ctx); err != nil {
			logger.Error("orchestrator stopped", "error", err)
		}
	}()

	tail := executor.NewOutputTail(filepath.Join(opts.Root, config.Dir, config.AgentLogFile), logger)
	go func() {
		if err := tail.Run(ctx, func(line string) {
			program.Send(msgs.AgentOutputMsg{Line: line})
		}); err != nil {
			logger.Warn("agent output unavailable", "error", err)
		}
	}()

	_, err := program.Run()

	// The program no longer reads messages; stop the loop before the
	// adapters are left sending into nothing.
	cancel()
	<-orchDone

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
