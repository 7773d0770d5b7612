package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pablasso/ralph/internal/git"
	"github.com/pablasso/ralph/internal/plan"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task list progress and workspace state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), root, cmd.OutOrStdout())
		},
	}
}

func runStatus(ctx context.Context, root *rootOptions, w io.Writer) error {
	ws, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer ws.Close()

	cfg := ws.cfg.Load()
	ledgerPath := ws.path(cfg.PRDPath)

	fmt.Fprintf(w, "Task list: %s\n", cfg.PRDPath)
	if !plan.LedgerExists(ledgerPath) {
		fmt.Fprintln(w, "  not found (create it, or run: ralph generate <description>)")
	} else {
		snap := plan.Load(ledgerPath, ws.logger())
		stats := snap.Stats()
		fmt.Fprintf(w, "  %d/%d complete, %d pending\n", stats.Completed, stats.Total, stats.Pending)
		if task, ok := snap.Next(); ok {
			fmt.Fprintf(w, "  next: %s (line %d)\n", task.Description, task.LineNumber)
		}
		if info, err := os.Stat(ledgerPath); err == nil {
			fmt.Fprintf(w, "  updated %s\n", humanize.Time(info.ModTime()))
		}
	}

	locked, err := ws.lock.IsLocked()
	switch {
	case err != nil:
		fmt.Fprintf(w, "Loop: unknown (%v)\n", err)
	case locked:
		fmt.Fprintln(w, "Loop: running")
	default:
		fmt.Fprintln(w, "Loop: idle")
	}

	if !git.InRepo(ctx, ws.root) {
		fmt.Fprintln(w, "Git: not a repository")
		return nil
	}
	repo, err := git.Inspect(ctx, ws.root)
	if err != nil {
		fmt.Fprintf(w, "Git: %v\n", err)
		return nil
	}
	if repo.Clean() {
		fmt.Fprintf(w, "Git: %s, clean\n", repo.Branch)
	} else {
		fmt.Fprintf(w, "Git: %s, %d uncommitted %s\n", repo.Branch, len(repo.Dirty), plural(len(repo.Dirty), "file", "files"))
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
