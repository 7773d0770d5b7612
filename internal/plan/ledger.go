package plan

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// taskLinePattern matches "- [ ] text" and "* [x] text" checklist lines.
// Leading indentation is allowed so nested checklists are picked up too.
var taskLinePattern = regexp.MustCompile(`^\s*[-*]\s+\[([ xX~!])\]\s+(.*\S)\s*$`)

// Stats summarises a task list. Pending counts in-progress tasks as well,
// so it agrees with NextTask about whether work remains.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

// Snapshot is one immutable read of the ledger document.
type Snapshot struct {
	Content string
	Tasks   []Task
}

// NewSnapshot parses content into a snapshot.
func NewSnapshot(content string) Snapshot {
	return Snapshot{Content: content, Tasks: Parse(content)}
}

// Next returns the first actionable task of the snapshot.
func (s Snapshot) Next() (Task, bool) {
	return NextTask(s.Tasks)
}

// Stats returns aggregate counts for the snapshot.
func (s Snapshot) Stats() Stats {
	return ComputeStats(s.Tasks)
}

// Parse extracts checklist tasks from a ledger document.
// Lines that do not match the task grammar are ignored. Line numbers are 1-based.
func Parse(content string) []Task {
	var tasks []Task

	// no line length limit
	for i, line := range strings.Split(content, "\n") {
		lineNumber := i + 1
		line = strings.TrimSuffix(line, "\r")

		match := taskLinePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		status, ok := statusFromMarker(match[1])
		if !ok {
			continue
		}

		tasks = append(tasks, Task{
			ID:          taskID(len(tasks)),
			Description: strings.TrimSpace(match[2]),
			Status:      status,
			LineNumber:  lineNumber,
			RawLine:     line,
		})
	}

	return tasks
}

// NextTask returns the first pending or in-progress task in document order.
func NextTask(tasks []Task) (Task, bool) {
	for _, task := range tasks {
		if task.Actionable() {
			return task, true
		}
	}
	return Task{}, false
}

// ComputeStats counts total, completed and remaining tasks.
// Blocked tasks count towards the total only.
func ComputeStats(tasks []Task) Stats {
	var stats Stats
	for _, task := range tasks {
		stats.Total++
		switch task.Status {
		case StatusComplete:
			stats.Completed++
		case StatusPending, StatusInProgress:
			stats.Pending++
		}
	}
	return stats
}

// ReadLedger returns the ledger document's content.
// A missing document yields an empty string; any other read failure is
// logged and also treated as empty, since absence is a reportable state
// rather than a fault.
func ReadLedger(path string, logger *slog.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && logger != nil {
			logger.Warn("failed to read ledger", "path", path, "error", err)
		}
		return ""
	}
	return string(data)
}

// Load reads and parses the ledger document at path.
func Load(path string, logger *slog.Logger) Snapshot {
	return NewSnapshot(ReadLedger(path, logger))
}

// LedgerExists reports whether the ledger document is present.
func LedgerExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
