package executor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/config"
	"github.com/pablasso/ralph/internal/logging"
	"github.com/pablasso/ralph/internal/plan"
)

// TaskCompletion records one detected completion.
type TaskCompletion struct {
	Task      string        `json:"task"`
	Iteration int           `json:"iteration"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Duration  time.Duration `json:"duration"`
}

// TaskRunner does the bookkeeping for task iterations and hands tasks to
// the dispatcher. It does not decide which task runs next, and it is not
// safe for concurrent use; the orchestrator owns it.
type TaskRunner struct {
	root       string
	cfg        config.Source
	dispatcher ai.Dispatcher
	logf       func(string)
	logger     *slog.Logger
	now        func() time.Time

	iteration   int
	currentTask string
	taskStart   time.Time
	history     []TaskCompletion
}

// NewTaskRunner creates a runner. logf receives operator-facing log lines.
func NewTaskRunner(root string, cfg config.Source, dispatcher ai.Dispatcher, logf func(string), logger *slog.Logger) *TaskRunner {
	if logf == nil {
		logf = func(string) {}
	}
	return &TaskRunner{
		root:       root,
		cfg:        cfg,
		dispatcher: dispatcher,
		logf:       logf,
		logger:     logging.OrDiscard(logger),
		now:        time.Now,
	}
}

// WithClock sets a custom time source (useful for testing).
func (r *TaskRunner) WithClock(now func() time.Time) *TaskRunner {
	r.now = now
	return r
}

// SetCurrentTask records the in-flight task and its start time.
func (r *TaskRunner) SetCurrentTask(description string) {
	r.currentTask = description
	r.taskStart = r.now()
}

// ClearCurrentTask forgets the in-flight task.
func (r *TaskRunner) ClearCurrentTask() {
	r.currentTask = ""
	r.taskStart = time.Time{}
}

// CurrentTask returns the in-flight task description, or "".
func (r *TaskRunner) CurrentTask() string {
	return r.currentTask
}

// TaskStart returns when the in-flight task was dispatched.
func (r *TaskRunner) TaskStart() time.Time {
	return r.taskStart
}

// IncrementIteration bumps the counter and returns the new value.
func (r *TaskRunner) IncrementIteration() int {
	r.iteration++
	return r.iteration
}

// Iteration returns the current counter.
func (r *TaskRunner) Iteration() int {
	return r.iteration
}

// CheckIterationLimit reports whether a positive maximum has been reached.
// It only logs; stopping is the caller's job.
func (r *TaskRunner) CheckIterationLimit() bool {
	max := r.cfg.Load().MaxIterations
	if max <= 0 || r.iteration < max {
		return false
	}
	r.logf(fmt.Sprintf("Reached maximum iterations (%d)", max))
	return true
}

// RecordTaskCompletion appends a completion for the current task.
func (r *TaskRunner) RecordTaskCompletion() TaskCompletion {
	finished := r.now()
	c := TaskCompletion{
		Task:      r.currentTask,
		Iteration: r.iteration,
		Started:   r.taskStart,
		Finished:  finished,
		Duration:  finished.Sub(r.taskStart),
	}
	r.history = append(r.history, c)
	r.logf(fmt.Sprintf("Completed %q in %s", c.Task, HumanDuration(c.Started, c.Finished)))
	return c
}

// History returns a copy of the completions recorded this session.
func (r *TaskRunner) History() []TaskCompletion {
	return append([]TaskCompletion(nil), r.history...)
}

// AverageDuration is the mean completion time this session.
func (r *TaskRunner) AverageDuration() time.Duration {
	if len(r.history) == 0 {
		return 0
	}
	var total time.Duration
	for _, c := range r.history {
		total += c.Duration
	}
	return total / time.Duration(len(r.history))
}

// Reset clears the counter, history and current task for a new session.
func (r *TaskRunner) Reset() {
	r.iteration = 0
	r.history = nil
	r.ClearCurrentTask()
}

// Trigger builds the instruction for description and dispatches it with a
// fresh context. Failure is logged and reported as ai.ChannelNone.
func (r *TaskRunner) Trigger(ctx context.Context, description string, retry bool) ai.Channel {
	if r.dispatcher == nil {
		r.logf("No dispatcher configured")
		return ai.ChannelNone
	}

	cfg := r.cfg.Load()
	ledgerPath := resolvePath(r.root, cfg.PRDPath)
	progressPath := resolvePath(r.root, cfg.ProgressPath)

	progress, err := plan.NewProgressLog(progressPath).Read()
	if err != nil {
		r.logger.Warn("failed to read progress log", "path", progressPath, "error", err)
	}

	prompt := ai.BuildTaskPrompt(ai.PromptInput{
		Task:         description,
		LedgerPath:   cfg.PRDPath,
		Ledger:       plan.ReadLedger(ledgerPath, r.logger),
		ProgressPath: cfg.ProgressPath,
		Progress:     progress,
		Requirements: cfg.Requirements.Enabled(),
		Iteration:    r.iteration,
		Retry:        retry,
	})

	channel, err := r.dispatcher.Dispatch(ctx, ai.Request{Prompt: prompt, FreshContext: true})
	if err != nil {
		r.logger.Error("dispatch failed", "task", description, "error", err)
		r.logf(fmt.Sprintf("Dispatch failed: %s", firstLine(err.Error())))
		return ai.ChannelNone
	}

	switch channel {
	case ai.ChannelClipboard:
		r.logf("Instruction copied to clipboard; paste it into your agent")
	default:
		r.logf(fmt.Sprintf("Dispatched via %s", channel))
	}
	return channel
}

func resolvePath(root, path string) string {
	if filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// HumanDuration describes the time between start and end in words.
func HumanDuration(start, end time.Time) string {
	if end.Sub(start) < time.Second {
		return "under a second"
	}
	return strings.TrimSpace(humanize.RelTime(start, end, "", ""))
}

// FormatDuration formats a duration as HH:MM:SS or MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
