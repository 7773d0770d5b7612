package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/executor"
)

func newGenerateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <description>",
		Short: "Ask the agent to write the task list",
		Long: `Sends a generation request describing what to build and waits for the
task list file to appear. Fails if the task list already exists.
Interrupting the wait also stops an agent started for the request.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), root, strings.Join(args, " "), cmd)
		},
	}
}

// generatePollInterval is how often generate checks whether the file appeared.
var generatePollInterval = 250 * time.Millisecond

func runGenerate(ctx context.Context, root *rootOptions, description string, cmd *cobra.Command) error {
	ws, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer ws.Close()

	cfg := ws.cfg.Load()
	if err := checkDispatch(cfg.Agent); err != nil {
		return err
	}

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

	channel, err := orch.GeneratePRD(ctx, description)
	if err != nil {
		return err
	}
	if channel == ai.ChannelClipboard {
		fmt.Fprintln(out, "The request is on your clipboard. Paste it into your agent.")
	}

	var agentExited <-chan struct{}
	if agent := dispatcher.Agent(); channel == ai.ChannelAgent && agent != nil {
		agentExited = waitChan(ctx, agent)
	}

	fmt.Fprintf(out, "Waiting for %s (Ctrl+C to stop waiting)\n", cfg.PRDPath)
	ticker := time.NewTicker(generatePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-agentExited:
			// one last look: the file may have landed just before exit
			agentExited = nil
			time.Sleep(generatePollInterval)
			if snap, err := orch.Snapshot(ctx); err == nil && snap.Generating {
				return fmt.Errorf("agent exited without creating %s", cfg.PRDPath)
			}
			return nil
		case <-ticker.C:
			snap, err := orch.Snapshot(ctx)
			if err != nil || !snap.Generating {
				return nil
			}
		}
	}
}

func waitChan(ctx context.Context, agent *ai.AgentChannel) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		agent.Wait(ctx)
		close(done)
	}()
	return done
}
