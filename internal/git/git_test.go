package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
)

// setupTestRepo creates a temporary git repository and returns its path.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test User"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	return dir
}

func TestParsePorcelain(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"empty", "", nil},
		{"untracked and modified", "?? new.txt\n M PRD.md\n", []string{"new.txt", "PRD.md"}},
		{"staged", "A  main.go\n", []string{"main.go"}},
		{"short line kept", "?? \n", []string{"??"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePorcelain(tt.output); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parsePorcelain() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInRepo(t *testing.T) {
	dir := setupTestRepo(t)
	ctx := context.Background()

	if !InRepo(ctx, dir) {
		t.Error("expected a fresh repository to be detected")
	}
	if InRepo(ctx, t.TempDir()) {
		t.Error("a plain directory is not a repository")
	}
}

func TestInspect(t *testing.T) {
	dir := setupTestRepo(t)
	ctx := context.Background()

	ws, err := Inspect(ctx, dir)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if ws.Branch != "main" {
		t.Errorf("Branch = %q, want main", ws.Branch)
	}
	if !ws.Clean() {
		t.Errorf("expected a clean workspace, got %q", ws.Dirty)
	}

	if err := os.WriteFile(filepath.Join(dir, "PRD.md"), []byte("- [ ] a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ws, err = Inspect(ctx, dir)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if ws.Clean() || ws.Dirty[0] != "PRD.md" {
		t.Errorf("expected PRD.md to be dirty, got %q", ws.Dirty)
	}
}

func TestInspect_NotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if _, err := Inspect(context.Background(), t.TempDir()); err == nil {
		t.Error("expected an error outside a repository")
	}
}
