// Package git reads workspace state for the status report and the run
// preflight. The loop never commits; that is the agent's job.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandContext creates git commands. Tests may replace it.
var CommandContext = exec.CommandContext

// Workspace summarises the repository around the ledger.
type Workspace struct {
	Branch string
	Dirty  []string
}

// Clean reports whether there are no uncommitted changes.
func (w Workspace) Clean() bool {
	return len(w.Dirty) == 0
}

// InRepo reports whether dir is inside a git work tree.
func InRepo(ctx context.Context, dir string) bool {
	out, err := run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// Inspect returns the current branch and uncommitted files of dir.
// If dir is empty, uses the current working directory.
func Inspect(ctx context.Context, dir string) (Workspace, error) {
	var ws Workspace

	branch, err := run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		// a repository without commits has no HEAD yet
		branch, err = run(ctx, dir, "symbolic-ref", "--short", "HEAD")
		if err != nil {
			return ws, err
		}
	}
	ws.Branch = strings.TrimSpace(branch)

	status, err := run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return ws, err
	}
	ws.Dirty = parsePorcelain(status)
	return ws, nil
}

// parsePorcelain extracts file names from `git status --porcelain`.
func parsePorcelain(output string) []string {
	var files []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// XY filename, e.g. "?? file.txt", " M file.txt"
		if len(line) > 3 {
			files = append(files, line[3:])
		} else {
			files = append(files, strings.TrimSpace(line))
		}
	}
	return files
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}
