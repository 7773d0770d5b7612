package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/config"
	"github.com/pablasso/ralph/internal/executor"
)

func newStepCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "step",
		Short: "Dispatch the next pending task once",
		Long: `Hands the next pending task to the agent without starting the loop.
When the agent CLI is used, its output is shown until it exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd.Context(), root, cmd)
		},
	}
}

func runStep(ctx context.Context, root *rootOptions, cmd *cobra.Command) error {
	ws, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer ws.Close()

	cfg := ws.cfg.Load()
	if err := checkDispatch(cfg.Agent); err != nil {
		return err
	}
	if err := ws.lock.Acquire(); err != nil {
		return err
	}
	defer ws.lock.Release()

	dispatcher := ws.dispatcher(cfg)
	defer dispatcher.Close()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	orch := executor.NewOrchestrator(executor.Options{
		Root:       ws.root,
		Config:     ws.cfg,
		Dispatcher: dispatcher,
		Events:     &lineEvents{w: out},
		Logger:     ws.logger(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		orch.Run(ctx)
	}()
	defer func() {
		cancel()
		<-orchDone
	}()

	// Start tailing before the dispatch so no early output is missed.
	tail := executor.NewOutputTail(filepath.Join(ws.root, config.Dir, config.AgentLogFile), ws.logger())
	tailCtx, stopTail := context.WithCancel(ctx)
	defer stopTail()
	go tail.Run(tailCtx, func(line string) {
		if formatted := executor.FormatStreamLine(line); formatted != "" {
			fmt.Fprintln(out, formatted)
		}
	})

	channel, err := orch.RunSingleStep(ctx)
	if err != nil {
		return err
	}

	switch channel {
	case ai.ChannelAgent:
		if agent := dispatcher.Agent(); agent != nil {
			if err := agent.Wait(ctx); err != nil {
				return fmt.Errorf("agent: %w", err)
			}
		}
	case ai.ChannelClipboard:
		fmt.Fprintln(out, "The instruction is on your clipboard. Paste it into your agent.")
	default:
		fmt.Fprintf(out, "Sent via %s.\n", channel)
	}
	return nil
}

// lineEvents prints log lines and notices as plain text.
type lineEvents struct {
	executor.NopEvents
	w io.Writer
}

func (e *lineEvents) OnLog(line string) {
	fmt.Fprintln(e.w, line)
}

func (e *lineEvents) OnNotice(msg string) {
	fmt.Fprintln(e.w, msg)
}

// lockedWriter serialises writes from the loop and the output tail.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
