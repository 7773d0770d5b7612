package plan

import "fmt"

// Status is the state of a checklist task, encoded by its bracket marker.
type Status int

// Task status values.
const (
	StatusPending Status = iota
	StatusInProgress
	StatusComplete
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusComplete:
		return "complete"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Marker returns the canonical bracket character for the status.
func (s Status) Marker() string {
	switch s {
	case StatusInProgress:
		return "~"
	case StatusComplete:
		return "x"
	case StatusBlocked:
		return "!"
	default:
		return " "
	}
}

// statusFromMarker maps a bracket character to a status.
// The second return value is false for characters that do not denote a task.
func statusFromMarker(marker string) (Status, bool) {
	switch marker {
	case " ":
		return StatusPending, true
	case "x", "X":
		return StatusComplete, true
	case "~":
		return StatusInProgress, true
	case "!":
		return StatusBlocked, true
	}
	return StatusPending, false
}

// Task is a single checklist line of the ledger document.
// Tasks are re-derived on every parse and never mutated afterwards.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	LineNumber  int    `json:"lineNumber"`
	RawLine     string `json:"rawLine"`
}

// Actionable reports whether the task still needs work.
// In-progress tasks count: they may have been left mid-flight by an earlier session.
func (t Task) Actionable() bool {
	return t.Status == StatusPending || t.Status == StatusInProgress
}

// taskID returns a positional identifier in the format t01, t02, ..., t100.
func taskID(index int) string {
	return fmt.Sprintf("t%02d", index+1)
}
