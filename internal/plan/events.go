package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Event type constants for the session event log.
const (
	EventLoopStarted       = "loop_started"
	EventLoopCompleted     = "loop_completed"
	EventLoopStopped       = "loop_stopped"
	EventTaskDispatched    = "task_dispatched"
	EventTaskCompleted     = "task_completed"
	EventTaskSkipped       = "task_skipped"
	EventInactivityTimeout = "inactivity_timeout"
)

// SessionEvent represents a single event log entry.
type SessionEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"sessionId,omitempty"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventLog writes loop session events to a JSON Lines file.
// It is a machine-readable companion to the progress log.
type EventLog struct {
	path      string
	sessionID string
}

// NewEventLog creates an event log writing to path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// StartSession assigns a fresh session id to subsequent events.
func (e *EventLog) StartSession() string {
	e.sessionID = uuid.NewString()
	return e.sessionID
}

// SessionID returns the current session id, empty before StartSession.
func (e *EventLog) SessionID() string {
	return e.sessionID
}

// Log appends an event to the log file.
func (e *EventLog) Log(event string, data map[string]interface{}) error {
	entry := SessionEvent{
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Event:     event,
		Data:      data,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	jsonBytes = append(jsonBytes, '\n')

	if err := os.MkdirAll(filepath.Dir(e.path), 0755); err != nil {
		return fmt.Errorf("failed to create event log directory: %w", err)
	}

	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(jsonBytes)
	return err
}

// LoopStarted logs a loop_started event.
func (e *EventLog) LoopStarted(ledgerPath string, pending int) error {
	return e.Log(EventLoopStarted, map[string]interface{}{
		"ledger":  ledgerPath,
		"pending": pending,
	})
}

// TaskDispatched logs a task_dispatched event.
func (e *EventLog) TaskDispatched(iteration int, task, channel string) error {
	data := map[string]interface{}{
		"iteration": iteration,
		"task":      task,
	}
	if channel != "" {
		data["channel"] = channel
	}
	return e.Log(EventTaskDispatched, data)
}

// TaskCompleted logs a task_completed event.
func (e *EventLog) TaskCompleted(iteration int, task string, elapsed time.Duration) error {
	return e.Log(EventTaskCompleted, map[string]interface{}{
		"iteration":  iteration,
		"task":       task,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// TaskSkipped logs a task_skipped event.
func (e *EventLog) TaskSkipped(iteration int, task string) error {
	return e.Log(EventTaskSkipped, map[string]interface{}{
		"iteration": iteration,
		"task":      task,
	})
}

// InactivityTimeout logs an inactivity_timeout event with the operator's choice.
func (e *EventLog) InactivityTimeout(task, choice string) error {
	return e.Log(EventInactivityTimeout, map[string]interface{}{
		"task":   task,
		"choice": choice,
	})
}

// LoopStopped logs a loop_stopped event.
func (e *EventLog) LoopStopped(reason string, iterations int) error {
	return e.Log(EventLoopStopped, map[string]interface{}{
		"reason":     reason,
		"iterations": iterations,
	})
}

// LoopCompleted logs a loop_completed event with summary statistics.
func (e *EventLog) LoopCompleted(completed, iterations int, duration time.Duration) error {
	return e.Log(EventLoopCompleted, map[string]interface{}{
		"completed":   completed,
		"iterations":  iterations,
		"duration_ms": duration.Milliseconds(),
	})
}
