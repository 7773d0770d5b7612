package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/config"
	"github.com/pablasso/ralph/internal/watch"
)

const eventually = 2 * time.Second

type fakeLedgerWatcher struct {
	mu       sync.Mutex
	onChange func(watch.LedgerChange)
	enabled  bool
	content  string
	closed   bool
	startErr error
}

func (w *fakeLedgerWatcher) Start(fn func(watch.LedgerChange)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	w.onChange = fn
	return nil
}

func (w *fakeLedgerWatcher) Enable()  { w.mu.Lock(); w.enabled = true; w.mu.Unlock() }
func (w *fakeLedgerWatcher) Disable() { w.mu.Lock(); w.enabled = false; w.mu.Unlock() }

func (w *fakeLedgerWatcher) UpdateContent(content string) {
	w.mu.Lock()
	w.content = content
	w.mu.Unlock()
}

func (w *fakeLedgerWatcher) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

// fire delivers a change regardless of the enabled flag, like a callback
// that was already queued when the watcher was disabled.
func (w *fakeLedgerWatcher) fire(content string) {
	w.mu.Lock()
	fn := w.onChange
	w.mu.Unlock()
	if fn != nil {
		fn(watch.LedgerChange{Content: content})
	}
}

func (w *fakeLedgerWatcher) isEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

type fakePathWatcher struct {
	mu     sync.Mutex
	fn     func(string)
	closed bool
}

func (w *fakePathWatcher) Start(fn func(string)) error {
	w.mu.Lock()
	w.fn = fn
	w.mu.Unlock()
	return nil
}

func (w *fakePathWatcher) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *fakePathWatcher) fire(s string) {
	w.mu.Lock()
	fn := w.fn
	w.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

type recordingEvents struct {
	mu          sync.Mutex
	statuses    []Snapshot
	logs        []string
	notices     []string
	countdowns  []int
	completions []TaskCompletion
}

func (e *recordingEvents) OnStatus(s Snapshot) {
	e.mu.Lock()
	e.statuses = append(e.statuses, s)
	e.mu.Unlock()
}

func (e *recordingEvents) OnLog(line string) {
	e.mu.Lock()
	e.logs = append(e.logs, line)
	e.mu.Unlock()
}

func (e *recordingEvents) OnCountdown(remaining int) {
	e.mu.Lock()
	e.countdowns = append(e.countdowns, remaining)
	e.mu.Unlock()
}

func (e *recordingEvents) OnNotice(msg string) {
	e.mu.Lock()
	e.notices = append(e.notices, msg)
	e.mu.Unlock()
}

func (e *recordingEvents) OnTaskCompleted(c TaskCompletion) {
	e.mu.Lock()
	e.completions = append(e.completions, c)
	e.mu.Unlock()
}

func (e *recordingEvents) hasLog(substr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func (e *recordingEvents) hasNotice(substr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func (e *recordingEvents) completionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.completions)
}

// scriptedPrompter answers from a list, then blocks until cancelled.
// With gate set it instead waits for an answer on gate, even after
// cancellation, like an operator replying to a form that is already gone.
type scriptedPrompter struct {
	mu      sync.Mutex
	answers []Choice
	asked   []InactivityPrompt
	gate    chan Choice
}

func (p *scriptedPrompter) PromptInactivity(ctx context.Context, ip InactivityPrompt) (Choice, error) {
	p.mu.Lock()
	p.asked = append(p.asked, ip)
	if len(p.answers) > 0 {
		c := p.answers[0]
		p.answers = p.answers[1:]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()
	if p.gate != nil {
		return <-p.gate, nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func (p *scriptedPrompter) askedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.asked)
}

type harness struct {
	t          *testing.T
	root       string
	ledgerPath string
	orch       *Orchestrator
	dispatcher *fakeDispatcher
	events     *recordingEvents
	prompter   *scriptedPrompter

	mu        sync.Mutex
	ledgers   []*fakeLedgerWatcher
	creations []*fakePathWatcher
	ledgerErr error
}

func newHarness(t *testing.T, ledger string, mutate func(*config.Config)) *harness {
	t.Helper()

	root := t.TempDir()
	h := &harness{
		t:          t,
		root:       root,
		ledgerPath: filepath.Join(root, "PRD.md"),
		dispatcher: newFakeDispatcher(),
		events:     &recordingEvents{},
		prompter:   &scriptedPrompter{},
	}
	if ledger != "" {
		h.writeLedger(ledger)
	}

	cfg := config.Default()
	cfg.CountdownSeconds = 0
	cfg.InactivityTimeout = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	h.orch = NewOrchestrator(Options{
		Root:       root,
		Config:     config.Static(cfg),
		Dispatcher: h.dispatcher,
		Events:     h.events,
		Prompter:   h.prompter,
		Watchers: Watchers{
			Ledger: func(string) LedgerWatcher {
				h.mu.Lock()
				defer h.mu.Unlock()
				w := &fakeLedgerWatcher{startErr: h.ledgerErr}
				h.ledgers = append(h.ledgers, w)
				return w
			},
			Activity: func(string) PathWatcher { return &fakePathWatcher{} },
			Creation: func(string) PathWatcher {
				h.mu.Lock()
				defer h.mu.Unlock()
				w := &fakePathWatcher{}
				h.creations = append(h.creations, w)
				return w
			},
		},
		CountdownInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.orch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) writeLedger(content string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(h.ledgerPath, []byte(content), 0644))
}

func (h *harness) ledger() *fakeLedgerWatcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.ledgers)
	return h.ledgers[len(h.ledgers)-1]
}

// edit rewrites the ledger and delivers the change to the orchestrator.
func (h *harness) edit(content string) {
	h.t.Helper()
	h.writeLedger(content)
	h.ledger().fire(content)
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.orch.Snapshot(context.Background())
	require.NoError(h.t, err)
	return s
}

func (h *harness) waitDispatches(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.dispatcher.calls() == n }, eventually, time.Millisecond)
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.orch.StartLoop(context.Background()))
}

func TestOrchestrator_NormalRun(t *testing.T) {
	h := newHarness(t, "# Plan\n- [ ] task1\n- [ ] task2\n", nil)

	h.start()
	require.Equal(t, 1, h.dispatcher.calls())
	assert.Contains(t, h.dispatcher.prompt(0), "## Your Task\ntask1")

	s := h.snapshot()
	assert.Equal(t, StatusWaiting, s.Status)
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, "task1", s.CurrentTask)
	assert.True(t, h.ledger().isEnabled())

	h.edit("# Plan\n- [x] task1\n- [ ] task2\n")
	h.waitDispatches(2)
	assert.Contains(t, h.dispatcher.prompt(1), "## Your Task\ntask2")

	history, err := h.orch.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "task1", history[0].Task)

	progress, err := os.ReadFile(filepath.Join(h.root, "progress.txt"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(progress), "Completed: task1"))
	assert.Equal(t, 1, h.events.completionCount())

	h.edit("# Plan\n- [x] task1\n- [x] task2\n")
	require.Eventually(t, func() bool { return h.events.hasNotice("All tasks complete") }, eventually, time.Millisecond)

	s = h.snapshot()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, 2, h.dispatcher.calls())

	events, err := os.ReadFile(filepath.Join(h.root, config.Dir, config.EventsFile))
	require.NoError(t, err)
	for _, want := range []string{"loop_started", "task_dispatched", "task_completed", "loop_completed"} {
		assert.Contains(t, string(events), want)
	}
}

func TestOrchestrator_UnrelatedEditIsNotCompletion(t *testing.T) {
	h := newHarness(t, "- [ ] task1\n- [ ] task2\n", nil)
	h.start()

	h.edit("- [~] task1\n- [ ] task2\n- [ ] task3\n")
	s := h.snapshot()

	assert.Equal(t, 1, h.dispatcher.calls())
	assert.Equal(t, 0, h.events.completionCount())
	assert.Equal(t, 3, s.Stats.Pending)
}

func TestOrchestrator_AllComplete(t *testing.T) {
	h := newHarness(t, "- [x] done\n", nil)

	err := h.orch.StartLoop(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingTasks)
	assert.True(t, h.events.hasNotice("No pending tasks"))
	assert.Equal(t, 0, h.dispatcher.calls())
	assert.Equal(t, StatusIdle, h.snapshot().Status)
}

func TestOrchestrator_MissingLedger(t *testing.T) {
	h := newHarness(t, "", nil)

	err := h.orch.StartLoop(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingTasks)
	assert.True(t, h.events.hasNotice("No task list found"))
}

func TestOrchestrator_AlreadyRunning(t *testing.T) {
	h := newHarness(t, "- [ ] a\n", nil)
	h.start()

	assert.ErrorIs(t, h.orch.StartLoop(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, 1, h.dispatcher.calls())
}

func TestOrchestrator_InactivityThenSkip(t *testing.T) {
	h := newHarness(t, "- [ ] stuck\n- [ ] next\n", func(c *config.Config) {
		c.InactivityTimeout = 30 * time.Millisecond
	})
	h.prompter.answers = []Choice{ChoiceSkip}

	h.start()
	h.waitDispatches(2)

	assert.True(t, h.events.hasLog(`Skipped "stuck"`))
	assert.Equal(t, 0, h.events.completionCount())
	assert.Contains(t, h.dispatcher.prompt(1), "## Your Task\nstuck")

	history, err := h.orch.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)

	h.events.mu.Lock()
	countdowns := append([]int(nil), h.events.countdowns...)
	h.events.mu.Unlock()
	assert.Contains(t, countdowns, 0)

	events, err := os.ReadFile(filepath.Join(h.root, config.Dir, config.EventsFile))
	require.NoError(t, err)
	assert.Contains(t, string(events), "task_skipped")
	assert.Contains(t, string(events), "inactivity_timeout")
}

func TestOrchestrator_InactivityThenRetry(t *testing.T) {
	h := newHarness(t, "- [ ] flaky\n", func(c *config.Config) {
		c.InactivityTimeout = 30 * time.Millisecond
	})
	h.prompter.answers = []Choice{ChoiceRetry}

	h.start()
	h.waitDispatches(2)

	assert.Contains(t, h.dispatcher.prompt(1), "previous attempt")
	s := h.snapshot()
	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, "flaky", s.CurrentTask)
}

func TestOrchestrator_InactivityThenStop(t *testing.T) {
	h := newHarness(t, "- [ ] a\n", func(c *config.Config) {
		c.InactivityTimeout = 30 * time.Millisecond
	})
	h.prompter.answers = []Choice{ChoiceStop}

	h.start()
	require.Eventually(t, func() bool { return h.snapshot().Status == StatusIdle }, eventually, time.Millisecond)
	assert.Equal(t, 1, h.dispatcher.calls())
}

func TestOrchestrator_InactivityContinueRearms(t *testing.T) {
	h := newHarness(t, "- [ ] a\n", func(c *config.Config) {
		c.InactivityTimeout = 30 * time.Millisecond
	})
	h.prompter.answers = []Choice{ChoiceContinue}

	h.start()
	require.Eventually(t, func() bool { return h.prompter.askedCount() == 2 }, eventually, time.Millisecond)
	assert.Equal(t, 1, h.dispatcher.calls())
	assert.Equal(t, StatusWaiting, h.snapshot().Status)
}

func TestOrchestrator_LateAnswerAfterCompletionIsIgnored(t *testing.T) {
	h := newHarness(t, "- [ ] task1\n- [ ] task2\n", func(c *config.Config) {
		c.InactivityTimeout = 30 * time.Millisecond
		c.CountdownSeconds = 30
	})
	gate := make(chan Choice, 1)
	h.prompter.gate = gate
	t.Cleanup(func() { close(gate) })

	h.start()
	require.Eventually(t, func() bool { return h.prompter.askedCount() == 1 }, eventually, time.Millisecond)

	h.edit("- [x] task1\n- [ ] task2\n")
	require.Eventually(t, func() bool { return h.events.completionCount() == 1 }, eventually, time.Millisecond)

	gate <- ChoiceRetry
	h.waitDispatches(2)
	time.Sleep(100 * time.Millisecond)

	s := h.snapshot()
	assert.Equal(t, 2, h.dispatcher.calls())
	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, "task2", s.CurrentTask)
	assert.False(t, h.events.hasLog(`retrying`))
}

func TestOrchestrator_PauseBlocksQueuedChange(t *testing.T) {
	h := newHarness(t, "- [ ] task1\n- [ ] task2\n", nil)
	h.start()

	require.NoError(t, h.orch.PauseLoop(context.Background()))
	assert.False(t, h.ledger().isEnabled())
	assert.Equal(t, StatusPaused, h.snapshot().Status)

	h.edit("- [x] task1\n- [ ] task2\n")
	h.snapshot()
	assert.Equal(t, 0, h.events.completionCount())
	assert.Equal(t, 1, h.dispatcher.calls())

	require.NoError(t, h.orch.ResumeLoop(context.Background()))
	h.waitDispatches(2)
	assert.Equal(t, 1, h.events.completionCount())
	assert.Contains(t, h.dispatcher.prompt(1), "## Your Task\ntask2")
}

func TestOrchestrator_ResumeWithoutChangeKeepsWaiting(t *testing.T) {
	h := newHarness(t, "- [ ] task1\n", nil)
	h.start()

	require.NoError(t, h.orch.PauseLoop(context.Background()))
	require.NoError(t, h.orch.ResumeLoop(context.Background()))

	s := h.snapshot()
	assert.Equal(t, StatusWaiting, s.Status)
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, 1, h.dispatcher.calls())
	assert.True(t, h.ledger().isEnabled())
}

func TestOrchestrator_PauseResumeAreNoOpsWhenIdle(t *testing.T) {
	h := newHarness(t, "- [ ] a\n", nil)

	require.NoError(t, h.orch.PauseLoop(context.Background()))
	require.NoError(t, h.orch.ResumeLoop(context.Background()))
	assert.Equal(t, StatusIdle, h.snapshot().Status)
	assert.ErrorIs(t, h.orch.TogglePause(context.Background()), ErrNotRunning)
}

func TestOrchestrator_IterationSurvivesPause(t *testing.T) {
	h := newHarness(t, "- [ ] a\n- [ ] b\n", nil)
	h.start()
	h.edit("- [x] a\n- [ ] b\n")
	h.waitDispatches(2)

	require.NoError(t, h.orch.TogglePause(context.Background()))
	require.NoError(t, h.orch.TogglePause(context.Background()))
	assert.Equal(t, 2, h.snapshot().Iteration)
}

func TestOrchestrator_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, "- [ ] a\n- [ ] b\n", nil)
	h.start()

	require.NoError(t, h.orch.StopLoop(context.Background()))
	once := h.snapshot()
	require.NoError(t, h.orch.StopLoop(context.Background()))
	twice := h.snapshot()

	assert.Equal(t, once, twice)
	assert.Equal(t, StatusIdle, twice.Status)
	assert.Empty(t, twice.CurrentTask)
	assert.True(t, h.ledger().closed)

	// a change that arrives after stop is ignored
	h.edit("- [x] a\n- [ ] b\n")
	h.snapshot()
	assert.Equal(t, 0, h.events.completionCount())
	assert.Equal(t, 1, h.dispatcher.calls())
}

func TestOrchestrator_StopCancelsCountdown(t *testing.T) {
	h := newHarness(t, "- [ ] a\n- [ ] b\n", func(c *config.Config) {
		c.CountdownSeconds = 5
	})
	h.start()
	h.edit("- [x] a\n- [ ] b\n")
	require.Eventually(t, func() bool { return h.events.completionCount() == 1 }, eventually, time.Millisecond)

	require.NoError(t, h.orch.StopLoop(context.Background()))
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, h.dispatcher.calls())
	assert.Equal(t, -1, h.snapshot().Countdown)
}

func TestOrchestrator_IterationLimit(t *testing.T) {
	h := newHarness(t, "- [ ] a\n- [ ] b\n", func(c *config.Config) {
		c.MaxIterations = 1
	})
	h.start()
	h.edit("- [x] a\n- [ ] b\n")

	require.Eventually(t, func() bool { return h.events.hasLog("maximum iterations") }, eventually, time.Millisecond)
	assert.Equal(t, StatusIdle, h.snapshot().Status)
	assert.Equal(t, 1, h.dispatcher.calls())
}

func TestOrchestrator_RestartResetsSession(t *testing.T) {
	h := newHarness(t, "- [ ] a\n- [ ] b\n", nil)
	h.start()
	h.edit("- [x] a\n- [ ] b\n")
	h.waitDispatches(2)
	require.NoError(t, h.orch.StopLoop(context.Background()))

	h.start()
	s := h.snapshot()
	assert.Equal(t, 1, s.Iteration)

	history, err := h.orch.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOrchestrator_DispatchFailureStillWaits(t *testing.T) {
	h := newHarness(t, "- [ ] a\n", nil)
	h.dispatcher.err = errors.New("no agent")

	h.start()
	assert.True(t, h.events.hasLog("Dispatch failed: no agent"))
	assert.Equal(t, StatusWaiting, h.snapshot().Status)
	assert.True(t, h.ledger().isEnabled())
}

func TestOrchestrator_LedgerWatcherFailureIsReported(t *testing.T) {
	h := newHarness(t, "- [ ] a\n", nil)
	h.ledgerErr = errors.New("too many open files")

	h.start()
	assert.True(t, h.events.hasNotice("watcher unavailable"))
	assert.Equal(t, 1, h.dispatcher.calls())
}

func TestOrchestrator_RunSingleStep(t *testing.T) {
	h := newHarness(t, "- [x] done\n- [ ] next\n", nil)

	channel, err := h.orch.RunSingleStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ai.ChannelAgent, channel)
	assert.Contains(t, h.dispatcher.prompt(0), "## Your Task\nnext")
	assert.Equal(t, StatusIdle, h.snapshot().Status)

	h.start()
	_, err = h.orch.RunSingleStep(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestOrchestrator_RunSingleStepNoTasks(t *testing.T) {
	h := newHarness(t, "- [x] done\n", nil)

	_, err := h.orch.RunSingleStep(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingTasks)
	assert.Equal(t, 0, h.dispatcher.calls())
}

func TestOrchestrator_GeneratePRD(t *testing.T) {
	h := newHarness(t, "", nil)

	channel, err := h.orch.GeneratePRD(context.Background(), "a todo app")
	require.NoError(t, err)
	assert.Equal(t, ai.ChannelAgent, channel)
	assert.Contains(t, h.dispatcher.prompt(0), "a todo app")
	assert.True(t, h.snapshot().Generating)

	h.mu.Lock()
	creation := h.creations[0]
	h.mu.Unlock()

	content := "- [ ] one\n- [ ] two\n"
	h.writeLedger(content)
	creation.fire(content)

	require.Eventually(t, func() bool { return h.events.hasNotice("created with 2 tasks") }, eventually, time.Millisecond)
	assert.False(t, h.snapshot().Generating)
}

func TestOrchestrator_GeneratePRDRejections(t *testing.T) {
	h := newHarness(t, "- [ ] exists\n", nil)

	_, err := h.orch.GeneratePRD(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrLedgerExists)

	h.start()
	_, err = h.orch.GeneratePRD(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	empty := newHarness(t, "", nil)
	_, err = empty.orch.GeneratePRD(context.Background(), "   ")
	assert.Error(t, err)
}

func TestOrchestrator_ClosedAfterRunExits(t *testing.T) {
	o := NewOrchestrator(Options{Root: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.ErrorIs(t, o.StartLoop(context.Background()), ErrClosed)
}
