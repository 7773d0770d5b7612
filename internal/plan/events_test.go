package plan

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readSessionEvents(t *testing.T, path string) []SessionEvent {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open event log: %v", err)
	}
	defer f.Close()

	var events []SessionEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event SessionEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("failed to parse JSON: %v", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	return events
}

func TestEventLog_SessionLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ralph", "events.jsonl")
	log := NewEventLog(path)

	sessionID := log.StartSession()
	if sessionID == "" {
		t.Fatal("expected a session id")
	}

	if err := log.LoopStarted("PRD.md", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := log.TaskDispatched(1, "Add login", "agent"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := log.TaskCompleted(1, "Add login", 1500*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := log.LoopCompleted(1, 1, 3*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := readSessionEvents(t, path)
	wantOrder := []string{EventLoopStarted, EventTaskDispatched, EventTaskCompleted, EventLoopCompleted}
	if len(events) != len(wantOrder) {
		t.Fatalf("expected %d events, got %d", len(wantOrder), len(events))
	}
	for i, event := range events {
		if event.Event != wantOrder[i] {
			t.Errorf("event %d: got %s, want %s", i, event.Event, wantOrder[i])
		}
		if event.SessionID != sessionID {
			t.Errorf("event %d: session id %q, want %q", i, event.SessionID, sessionID)
		}
	}

	// JSON numbers decode as float64
	if events[2].Data["elapsed_ms"] != float64(1500) {
		t.Errorf("elapsed_ms: got %v", events[2].Data["elapsed_ms"])
	}
	if events[1].Data["channel"] != "agent" {
		t.Errorf("channel: got %v", events[1].Data["channel"])
	}
}

func TestEventLog_NewSessionChangesID(t *testing.T) {
	log := NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	first := log.StartSession()
	second := log.StartSession()
	if first == second {
		t.Error("expected distinct session ids")
	}
	if log.SessionID() != second {
		t.Errorf("SessionID: got %q, want %q", log.SessionID(), second)
	}
}
