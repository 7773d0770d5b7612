package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pablasso/ralph/internal/display"
	"github.com/pablasso/ralph/internal/executor"
	"github.com/pablasso/ralph/internal/metrics"
	"github.com/pablasso/ralph/internal/plan"
)

type runOptions struct {
	metricsAddr string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the loop without the TUI",
		Long: `Runs the loop in the terminal until every task is complete, the iteration
limit is reached or you press Ctrl+C. Send SIGUSR1 to pause or resume.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeadless(cmd.Context(), root, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// loopEnd fires once the loop has been running and returns to idle.
type loopEnd struct {
	executor.NopEvents
	once    sync.Once
	started bool
	done    chan struct{}
}

func newLoopEnd() *loopEnd {
	return &loopEnd{done: make(chan struct{})}
}

func (l *loopEnd) OnStatus(s executor.Snapshot) {
	if s.Status != executor.StatusIdle {
		l.started = true
		return
	}
	if l.started {
		l.once.Do(func() { close(l.done) })
	}
}

func runHeadless(ctx context.Context, root *rootOptions, opts *runOptions, cmd *cobra.Command) error {
	ws, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.warnOutsideRepo(ctx)

	cfg := ws.cfg.Load()
	if err := checkDispatch(cfg.Agent); err != nil {
		return err
	}
	if err := ws.lock.Acquire(); err != nil {
		return err
	}
	defer ws.lock.Release()

	var m *metrics.Metrics
	if opts.metricsAddr != "" {
		_, m = metrics.NewRegistry()
		go func() {
			if err := m.Serve(ctx, opts.metricsAddr, ws.logger()); err != nil {
				ws.logger().Error("metrics server failed", "error", err)
			}
		}()
	}

	dispatcher := ws.dispatcher(cfg)
	defer dispatcher.Close()

	out := display.New(cmd.OutOrStdout())
	end := newLoopEnd()
	orch := executor.NewOrchestrator(executor.Options{
		Root:       ws.root,
		Config:     ws.cfg,
		Dispatcher: dispatcher,
		Events:     executor.MultiEvents{out, end},
		Prompter:   newTerminalPrompter(out),
		Metrics:    m,
		Logger:     ws.logger(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		if err := orch.Run(runCtx); err != nil {
			ws.logger().Error("orchestrator stopped", "error", err)
		}
	}()
	defer func() {
		cancel()
		<-orchDone
	}()

	out.Start()
	defer out.Stop()

	if err := orch.StartLoop(ctx); err != nil {
		if errors.Is(err, executor.ErrNoPendingTasks) && plan.LedgerExists(ws.path(cfg.PRDPath)) {
			fmt.Fprintf(cmd.OutOrStdout(), "Nothing to do: every task in %s is complete.\n", cfg.PRDPath)
			return nil
		}
		return err
	}

	pause := make(chan os.Signal, 1)
	signal.Notify(pause, syscall.SIGUSR1)
	defer signal.Stop(pause)

	for {
		select {
		case <-end.done:
			return nil
		case <-pause:
			if err := orch.TogglePause(ctx); err != nil {
				ws.logger().Warn("toggle pause failed", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
