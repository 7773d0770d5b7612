package plan

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestProgressLog_EnsureCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.txt")
	log := NewProgressLog(path)

	if err := log.Ensure(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read progress log: %v", err)
	}
	if string(data) != ProgressHeader {
		t.Errorf("content mismatch: got %q, want %q", string(data), ProgressHeader)
	}
}

func TestProgressLog_EnsureKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.txt")
	if err := os.WriteFile(path, []byte("existing notes\n"), 0644); err != nil {
		t.Fatalf("failed to seed progress log: %v", err)
	}

	if err := NewProgressLog(path).Ensure(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "existing notes\n" {
		t.Errorf("existing content was modified: %q", string(data))
	}
}

func TestProgressLog_AppendFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "progress.txt")
	log := NewProgressLog(path)
	log.now = func() time.Time {
		return time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)
	}

	if err := log.Append("Completed: Add login"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := log.Append("Completed: Add logout"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, err := log.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(content, ProgressHeader) {
		t.Errorf("missing header: %q", content)
	}
	want := "[2025-03-04T05:06:07.890Z] Completed: Add login\n[2025-03-04T05:06:07.890Z] Completed: Add logout\n"
	if !strings.HasSuffix(content, want) {
		t.Errorf("entries mismatch:\ngot  %q\nwant suffix %q", content, want)
	}
}

func TestProgressLog_TimestampIsISO8601(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.txt")
	log := NewProgressLog(path)

	if err := log.Append("entry"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, _ := log.Read()

	pattern := regexp.MustCompile(`(?m)^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z\] entry$`)
	if !pattern.MatchString(content) {
		t.Errorf("entry not in expected format: %q", content)
	}
}

func TestProgressLog_ReadMissing(t *testing.T) {
	log := NewProgressLog(filepath.Join(t.TempDir(), "missing.txt"))

	content, err := log.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "" {
		t.Errorf("expected empty content, got %q", content)
	}
}
