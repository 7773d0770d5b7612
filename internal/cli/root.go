// Package cli is the ralph command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pablasso/ralph/internal/tui"
	"github.com/pablasso/ralph/internal/version"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	dir           string
	prd           string
	progress      string
	maxIterations int
}

// NewRootCmd builds the command tree. Without a subcommand it opens the TUI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ralph",
		Short: "Drive an AI coding agent through a task list",
		Long: `Ralph hands the next unchecked task in a Markdown task list to your coding
agent, watches the list for the agent to tick it off, and moves on.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.dir, "dir", "C", "", "Workspace directory (default: current directory)")
	flags.StringVar(&opts.prd, "prd", "", "Task list path, overriding prd_path")
	flags.StringVar(&opts.progress, "progress", "", "Progress log path, overriding progress_path")
	flags.IntVar(&opts.maxIterations, "max-iterations", -1, "Iteration limit, overriding max_iterations (0 = unlimited)")

	cmd.AddCommand(
		newRunCmd(opts),
		newStepCmd(opts),
		newStatusCmd(opts),
		newGenerateCmd(opts),
		newInitCmd(opts),
	)
	return cmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func runTUI(ctx context.Context, opts *rootOptions) error {
	ws, err := openWorkspace(opts)
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

	return tui.Run(ctx, tui.Options{
		Root:       ws.root,
		Config:     ws.cfg,
		Dispatcher: dispatcher,
		Logger:     ws.logger(),
	})
}
