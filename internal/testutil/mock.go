// Package testutil holds helpers shared by command-level tests.
package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// EchoCommand returns a CommandContext replacement whose commands print
// output and exit, whatever program and arguments they were asked for.
//
//	ai.CommandContext = testutil.EchoCommand("done")
func EchoCommand(output string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "printf", "%s", output)
	}
}

// SetupTestDir makes a fresh workspace the working directory for the rest
// of the test and returns its symlink-free path.
func SetupTestDir(t *testing.T) string {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to resolve temp dir: %v", err)
	}
	t.Chdir(dir)
	return dir
}

// WriteLedger writes a task list into dir and returns its path.
func WriteLedger(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
