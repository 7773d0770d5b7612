package views

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/executor"
	"github.com/pablasso/ralph/internal/plan"
	"github.com/pablasso/ralph/internal/tui/msgs"
)

type fakeController struct {
	mu       sync.Mutex
	calls    []string
	startErr error
}

func (c *fakeController) record(name string) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
}

func (c *fakeController) StartLoop(context.Context) error {
	c.record("start")
	return c.startErr
}

func (c *fakeController) TogglePause(context.Context) error {
	c.record("pause")
	return nil
}

func (c *fakeController) StopLoop(context.Context) error {
	c.record("stop")
	return nil
}

func (c *fakeController) RunSingleStep(context.Context) (ai.Channel, error) {
	c.record("step")
	return ai.ChannelAgent, nil
}

func (c *fakeController) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return ""
	}
	return c.calls[len(c.calls)-1]
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel() (LoopModel, *fakeController) {
	ctrl := &fakeController{}
	m := NewLoopModel(ctrl, "PRD.md")
	m.now = func() time.Time { return time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC) }
	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, ctrl
}

// press sends a key and runs the resulting command, feeding its message
// back into the model.
func press(t *testing.T, m LoopModel, k string) LoopModel {
	t.Helper()
	m, cmd := m.Update(keyMsg(k))
	if cmd != nil {
		if msg := cmd(); msg != nil {
			m, _ = m.Update(msg)
		}
	}
	return m
}

func TestLoopModel_CommandKeys(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"s", "start"},
		{"p", "pause"},
		{"x", "stop"},
		{"n", "step"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, ctrl := newTestModel()
			press(t, m, tt.key)
			if got := ctrl.last(); got != tt.want {
				t.Errorf("key %q called %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLoopModel_QuitWhenIdle(t *testing.T) {
	m, ctrl := newTestModel()
	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit immediately when idle")
	}
	if ctrl.last() != "" {
		t.Errorf("no controller call expected, got %q", ctrl.last())
	}
}

func TestLoopModel_QuitStopsRunningLoopFirst(t *testing.T) {
	m, ctrl := newTestModel()
	m, _ = m.Update(msgs.StatusMsg{Snapshot: executor.Snapshot{Status: executor.StatusWaiting}})

	m, cmd := m.Update(keyMsg("q"))
	done := cmd()
	if ctrl.last() != "stop" {
		t.Fatalf("q should stop the loop, got %q", ctrl.last())
	}
	_, cmd = m.Update(done)
	if cmd == nil {
		t.Fatal("expected quit after stop")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg after the stop completed")
	}
}

func TestLoopModel_ReportedErrorsNotRepeated(t *testing.T) {
	m, ctrl := newTestModel()
	ctrl.startErr = executor.ErrNoPendingTasks

	m, _ = m.Update(msgs.NoticeMsg{Text: "No pending tasks in PRD.md"})
	m = press(t, m, "s")
	if m.Notice() != "" {
		// the notice is cleared on keypress and the sentinel is not re-reported
		t.Errorf("unexpected notice %q", m.Notice())
	}

	ctrl.startErr = errors.New("boom")
	m = press(t, m, "s")
	if !strings.Contains(m.Notice(), "start failed: boom") {
		t.Errorf("expected failure notice, got %q", m.Notice())
	}
}

func TestLoopModel_InactivityOverlay(t *testing.T) {
	tests := []struct {
		key  string
		want executor.Choice
	}{
		{"c", executor.ChoiceContinue},
		{"r", executor.ChoiceRetry},
		{"k", executor.ChoiceSkip},
		{"x", executor.ChoiceStop},
		{"esc", executor.ChoiceContinue},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, ctrl := newTestModel()
			reply := make(chan executor.Choice, 1)
			m, _ = m.Update(msgs.InactivityPromptMsg{
				Prompt: executor.InactivityPrompt{Task: "build api", Idle: time.Minute, Waiting: true},
				Reply:  reply,
			})
			if !m.Prompting() {
				t.Fatal("expected the overlay to show")
			}
			if !strings.Contains(m.View(), "Possible stall") {
				t.Error("overlay not rendered")
			}

			m, _ = m.Update(keyMsg(tt.key))
			if m.Prompting() {
				t.Error("overlay should close after an answer")
			}
			if got := <-reply; got != tt.want {
				t.Errorf("choice = %q, want %q", got, tt.want)
			}
			if ctrl.last() != "" {
				t.Errorf("overlay keys must not reach the controller, got %q", ctrl.last())
			}
		})
	}
}

func TestLoopModel_OverlayIgnoresOtherKeys(t *testing.T) {
	m, _ := newTestModel()
	reply := make(chan executor.Choice, 1)
	m, _ = m.Update(msgs.InactivityPromptMsg{Reply: reply})

	m, _ = m.Update(keyMsg("s"))
	if !m.Prompting() {
		t.Error("unrelated key should leave the overlay open")
	}
	select {
	case c := <-reply:
		t.Errorf("unexpected reply %q", c)
	default:
	}
}

func TestLoopModel_NewPromptAnswersOldOne(t *testing.T) {
	m, _ := newTestModel()
	first := make(chan executor.Choice, 1)
	second := make(chan executor.Choice, 1)

	m, _ = m.Update(msgs.InactivityPromptMsg{Reply: first})
	m, _ = m.Update(msgs.InactivityPromptMsg{Reply: second})

	if got := <-first; got != executor.ChoiceContinue {
		t.Errorf("replaced prompt answered %q", got)
	}
	m, _ = m.Update(msgs.PromptDismissedMsg{})
	if m.Prompting() {
		t.Error("dismissal should close the overlay")
	}
}

func TestLoopModel_RendersStatus(t *testing.T) {
	m, _ := newTestModel()
	now := m.now()
	m, _ = m.Update(msgs.StatusMsg{Snapshot: executor.Snapshot{
		Status:        executor.StatusWaiting,
		Iteration:     2,
		MaxIterations: 10,
		CurrentTask:   "write parser",
		TaskStart:     now.Add(-2 * time.Minute),
		Channel:       "agent",
		Stats:         plan.Stats{Total: 4, Completed: 1, Pending: 3},
		Countdown:     -1,
	}})
	m, _ = m.Update(msgs.LogMsg{Line: "Iteration 2: write parser"})
	m, _ = m.Update(msgs.AgentOutputMsg{Line: "→ Read parser.go"})
	m, _ = m.Update(msgs.TaskCompletedMsg{Completion: executor.TaskCompletion{Task: "setup", Duration: time.Minute}})

	view := m.View()
	for _, want := range []string{
		"PRD.md",
		"WAITING",
		"Tasks: 1/4 done, 3 pending",
		"Iteration: 2/10",
		"write parser",
		"Working for 02:00",
		"Sent via agent",
		"10:00:00 Iteration 2: write parser",
		"→ Read parser.go",
		"✓ setup (01:00)",
		"p Pause",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestLoopModel_CountdownShownWhileRunning(t *testing.T) {
	m, _ := newTestModel()
	m, _ = m.Update(msgs.StatusMsg{Snapshot: executor.Snapshot{Status: executor.StatusRunning, Countdown: 12}})
	m, _ = m.Update(msgs.CountdownMsg{Remaining: 7})

	if m.Snapshot().Countdown != 7 {
		t.Errorf("Countdown = %d, want 7", m.Snapshot().Countdown)
	}
	if !strings.Contains(m.View(), "Next task in 7s") {
		t.Error("countdown not rendered")
	}
}

func TestLoopModel_TabSwitchesScrollFocus(t *testing.T) {
	m, _ := newTestModel()
	if m.focus != focusLog {
		t.Fatal("log panel should start focused")
	}
	m, _ = m.Update(keyMsg("tab"))
	if m.focus != focusAgent {
		t.Error("tab should focus the agent panel")
	}
}

func TestLoopModel_ViewEmptyBeforeSize(t *testing.T) {
	m := NewLoopModel(&fakeController{}, "PRD.md")
	if m.View() != "" {
		t.Error("expected empty view before the first WindowSizeMsg")
	}
}
