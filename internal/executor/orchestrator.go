package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/config"
	"github.com/pablasso/ralph/internal/logging"
	"github.com/pablasso/ralph/internal/metrics"
	"github.com/pablasso/ralph/internal/plan"
	"github.com/pablasso/ralph/internal/timer"
	"github.com/pablasso/ralph/internal/watch"
)

// Operator-visible rejections.
var (
	ErrAlreadyRunning = errors.New("loop is already running")
	ErrNoPendingTasks = errors.New("no pending tasks")
	ErrNotRunning     = errors.New("loop is not running")
	ErrLedgerExists   = errors.New("task list already exists")
	ErrClosed         = errors.New("orchestrator is not running")
)

// LedgerWatcher is the subset of watch.LedgerWatcher the loop uses.
type LedgerWatcher interface {
	Start(onChange func(watch.LedgerChange)) error
	Enable()
	Disable()
	UpdateContent(content string)
	Close() error
}

// PathWatcher is a watcher that reports a path-level trigger.
type PathWatcher interface {
	Start(fn func(string)) error
	Close() error
}

// Watchers builds the change watchers. Nil fields use the fsnotify versions.
type Watchers struct {
	Ledger   func(path string) LedgerWatcher
	Activity func(root string) PathWatcher
	Creation func(path string) PathWatcher
}

func (w Watchers) withDefaults(logger *slog.Logger) Watchers {
	if w.Ledger == nil {
		w.Ledger = func(path string) LedgerWatcher { return watch.NewLedgerWatcher(path, logger) }
	}
	if w.Activity == nil {
		w.Activity = func(root string) PathWatcher { return watch.NewActivityWatcher(root, logger) }
	}
	if w.Creation == nil {
		w.Creation = func(path string) PathWatcher { return watch.NewCreationWatcher(path, logger) }
	}
	return w
}

// Options configure an Orchestrator.
type Options struct {
	// Root is the workspace directory relative paths resolve against.
	Root       string
	Config     config.Source
	Dispatcher ai.Dispatcher
	Events     Events
	Prompter   Prompter
	Oracle     Oracle
	Watchers   Watchers
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// CountdownInterval is the countdown tick length; zero means one second.
	CountdownInterval time.Duration
	Clock             func() time.Time
}

type loopState int

const (
	stateIdle loopState = iota
	stateRunning
)

// Orchestrator is the loop state machine. Every state change runs on the
// goroutine started by Run; the public methods queue work there and wait
// for the result. Watcher and timer callbacks only queue events, and each
// handler re-checks the state before acting.
type Orchestrator struct {
	root     string
	cfg      config.Source
	dispatch ai.Dispatcher
	events   Events
	prompter Prompter
	oracle   Oracle
	watchers Watchers
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mailbox chan func()
	done    chan struct{}
	ctx     context.Context

	// Fields below are owned by the Run goroutine.
	state        loopState
	paused       bool
	runner       *TaskRunner
	countdown    *timer.Countdown
	inactivity   *timer.InactivityMonitor
	ledgerW      LedgerWatcher
	activityW    PathWatcher
	creationW    PathWatcher
	ledgerArmed  bool
	waiting      bool
	prev         plan.Snapshot
	stats        plan.Stats
	ledgerPath   string
	progress     *plan.ProgressLog
	eventLog     *plan.EventLog
	sessionStart time.Time
	lastChannel  ai.Channel
	remaining    int
	generating   bool

	countdownGen  uint64
	inactivityGen uint64
	promptGen     uint64
	creationGen   uint64
	promptCancel  context.CancelFunc
}

// NewOrchestrator creates an idle orchestrator. Call Run before issuing
// commands.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := logging.OrDiscard(opts.Logger)
	if opts.Config == nil {
		opts.Config = config.Static(config.Default())
	}
	if opts.Events == nil {
		opts.Events = NopEvents{}
	}
	if opts.Oracle == nil {
		opts.Oracle = NextTaskOracle{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	o := &Orchestrator{
		root:      opts.Root,
		cfg:       opts.Config,
		dispatch:  opts.Dispatcher,
		events:    opts.Events,
		prompter:  opts.Prompter,
		oracle:    opts.Oracle,
		watchers:  opts.Watchers.withDefaults(logger),
		metrics:   opts.Metrics,
		logger:    logger,
		now:       opts.Clock,
		mailbox:   make(chan func(), 64),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		countdown: timer.NewCountdown(opts.CountdownInterval),
		remaining: -1,
	}

	initial := o.cfg.Load()
	o.inactivity = timer.NewInactivityMonitor(initial.InactivityTimeout)
	o.runner = NewTaskRunner(o.root, o.cfg, o.dispatch, o.log, logger).WithClock(o.now)
	o.eventLog = plan.NewEventLog(filepath.Join(o.root, config.Dir, config.EventsFile))
	return o
}

// Run processes commands and events until ctx is cancelled, then stops
// the loop. It must be called exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer close(o.done)

	for {
		select {
		case fn := <-o.mailbox:
			fn()
		case <-ctx.Done():
			o.teardown()
			if o.state == stateRunning {
				o.finish("shutdown")
			}
			o.closeCreationWatcher()
			return nil
		}
	}
}

// call runs fn on the loop goroutine and waits for its result.
func (o *Orchestrator) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case o.mailbox <- func() { reply <- fn() }:
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-o.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues an event from a watcher or timer goroutine.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.mailbox <- fn:
	case <-o.done:
	}
}

// StartLoop begins working through the ledger.
func (o *Orchestrator) StartLoop(ctx context.Context) error {
	return o.call(ctx, o.startLoop)
}

// PauseLoop suspends completion and inactivity detection.
func (o *Orchestrator) PauseLoop(ctx context.Context) error {
	return o.call(ctx, func() error { o.pauseLoop(); return nil })
}

// ResumeLoop continues a paused loop.
func (o *Orchestrator) ResumeLoop(ctx context.Context) error {
	return o.call(ctx, func() error { o.resumeLoop(); return nil })
}

// TogglePause pauses a running loop or resumes a paused one.
func (o *Orchestrator) TogglePause(ctx context.Context) error {
	return o.call(ctx, func() error {
		if o.state != stateRunning {
			o.notice("Loop is not running")
			return ErrNotRunning
		}
		if o.paused {
			o.resumeLoop()
		} else {
			o.pauseLoop()
		}
		return nil
	})
}

// StopLoop returns to idle. It is safe to call at any time.
func (o *Orchestrator) StopLoop(ctx context.Context) error {
	return o.call(ctx, func() error { o.stopLoop("stopped by operator"); return nil })
}

// RunSingleStep dispatches the next task once without starting the loop.
func (o *Orchestrator) RunSingleStep(ctx context.Context) (ai.Channel, error) {
	var channel ai.Channel
	err := o.call(ctx, func() error {
		var err error
		channel, err = o.runSingleStep()
		return err
	})
	return channel, err
}

// GeneratePRD asks the agent to write a task list from description.
func (o *Orchestrator) GeneratePRD(ctx context.Context, description string) (ai.Channel, error) {
	var channel ai.Channel
	err := o.call(ctx, func() error {
		var err error
		channel, err = o.generatePRD(description)
		return err
	})
	return channel, err
}

// Snapshot returns the current loop view.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := o.call(ctx, func() error {
		s = o.snapshot()
		return nil
	})
	return s, err
}

// History returns the completions recorded this session.
func (o *Orchestrator) History(ctx context.Context) ([]TaskCompletion, error) {
	var h []TaskCompletion
	err := o.call(ctx, func() error {
		h = o.runner.History()
		return nil
	})
	return h, err
}

func (o *Orchestrator) startLoop() error {
	if o.state == stateRunning {
		o.notice("Loop is already running")
		return ErrAlreadyRunning
	}

	cfg := o.cfg.Load()
	o.ledgerPath = resolvePath(o.root, cfg.PRDPath)
	snap := plan.Load(o.ledgerPath, o.logger)
	o.stats = snap.Stats()
	o.metrics.SetPending(o.stats.Pending)

	if o.stats.Pending == 0 {
		if !plan.LedgerExists(o.ledgerPath) {
			o.notice(fmt.Sprintf("No task list found at %s", cfg.PRDPath))
		} else {
			o.notice(fmt.Sprintf("No pending tasks in %s", cfg.PRDPath))
		}
		o.emitStatus()
		return ErrNoPendingTasks
	}

	o.progress = plan.NewProgressLog(resolvePath(o.root, cfg.ProgressPath))
	if err := o.progress.Ensure(); err != nil {
		o.logger.Warn("failed to create progress log", "error", err)
		o.log(fmt.Sprintf("Could not create %s: %v", cfg.ProgressPath, err))
	}

	o.runner.Reset()
	o.sessionStart = o.now()
	o.state = stateRunning
	o.paused = false
	o.prev = snap

	sessionID := o.eventLog.StartSession()
	o.logEvent(o.eventLog.LoopStarted(o.ledgerPath, o.stats.Pending))
	o.logger.Info("loop started", "session", sessionID, "ledger", o.ledgerPath, "pending", o.stats.Pending)
	o.log(fmt.Sprintf("Loop started: %d pending of %d tasks", o.stats.Pending, o.stats.Total))
	o.metrics.SetLoopState(metrics.StateRunning)

	o.armWatchers()
	o.inactivity.SetTimeout(cfg.InactivityTimeout)
	o.armInactivity()

	o.runNextTask()
	return nil
}

func (o *Orchestrator) armWatchers() {
	o.ledgerW = o.watchers.Ledger(o.ledgerPath)
	if err := o.ledgerW.Start(func(c watch.LedgerChange) {
		o.post(func() { o.handleLedgerChange(c) })
	}); err != nil {
		o.logger.Error("ledger watcher failed to start", "error", err)
		o.notice("Task list watcher unavailable; completions will not be detected automatically")
		o.ledgerW = nil
	}

	o.activityW = o.watchers.Activity(o.root)
	if err := o.activityW.Start(func(string) {
		o.inactivity.RecordActivity()
	}); err != nil {
		o.logger.Error("activity watcher failed to start", "error", err)
		o.log("Activity watcher unavailable; inactivity prompts may appear while the agent is busy")
		o.activityW = nil
	}
}

func (o *Orchestrator) armInactivity() {
	o.inactivityGen++
	gen := o.inactivityGen
	o.inactivity.Start(func() {
		o.post(func() { o.handleInactivityTimeout(gen) })
	})
}

func (o *Orchestrator) stopInactivity() {
	o.inactivityGen++
	o.inactivity.Stop()
}

func (o *Orchestrator) enableLedger(snap plan.Snapshot) {
	o.prev = snap
	o.ledgerArmed = true
	if o.ledgerW != nil {
		o.ledgerW.UpdateContent(snap.Content)
		o.ledgerW.Enable()
	}
}

func (o *Orchestrator) disableLedger() {
	o.ledgerArmed = false
	if o.ledgerW != nil {
		o.ledgerW.Disable()
	}
}

// runNextTask is the per-task cycle: resolve, check limits, dispatch.
func (o *Orchestrator) runNextTask() {
	if o.state != stateRunning || o.paused {
		return
	}

	snap := plan.Load(o.ledgerPath, o.logger)
	o.stats = snap.Stats()
	o.metrics.SetPending(o.stats.Pending)

	if o.stats.Pending == 0 {
		o.completeLoop()
		return
	}

	task, ok := snap.Next()
	if !ok {
		o.log("Could not resolve the next task; stopping")
		o.stopLoop("no next task")
		return
	}

	if o.runner.CheckIterationLimit() {
		o.stopLoop("iteration limit reached")
		return
	}

	o.dispatchTask(task.Description, snap, false)
}

func (o *Orchestrator) dispatchTask(description string, snap plan.Snapshot, retry bool) {
	iteration := o.runner.IncrementIteration()
	o.runner.SetCurrentTask(description)
	o.metrics.IterationStarted()

	if retry {
		o.log(fmt.Sprintf("Iteration %d: retrying %q", iteration, description))
	} else {
		o.log(fmt.Sprintf("Iteration %d: %s", iteration, description))
	}

	o.lastChannel = o.runner.Trigger(o.ctx, description, retry)
	o.metrics.TaskDispatched(string(o.lastChannel))
	o.logEvent(o.eventLog.TaskDispatched(iteration, description, string(o.lastChannel)))

	o.enableLedger(snap)
	o.waiting = true
	o.inactivity.SetWaiting(true)
	o.armInactivity()
	o.emitStatus()
}

func (o *Orchestrator) handleLedgerChange(c watch.LedgerChange) {
	inFlight := o.runner.CurrentTask()
	if o.state != stateRunning || o.paused || !o.ledgerArmed || inFlight == "" {
		return
	}

	next := plan.NewSnapshot(c.Content)
	o.logger.Debug("ledger changed", "summary", c.Summary)

	if !o.oracle.HasCompleted(o.prev, next, inFlight) {
		o.prev = next
		o.stats = next.Stats()
		o.metrics.SetPending(o.stats.Pending)
		o.emitStatus()
		return
	}
	o.completeTask(next)
}

func (o *Orchestrator) completeTask(next plan.Snapshot) {
	o.disableLedger()
	o.stopInactivity()
	o.cancelPrompt()
	o.waiting = false
	o.inactivity.SetWaiting(false)

	completion := o.runner.RecordTaskCompletion()
	o.metrics.TaskCompleted(completion.Duration)
	o.logEvent(o.eventLog.TaskCompleted(completion.Iteration, completion.Task, completion.Duration))

	entry := fmt.Sprintf("Completed: %s (iteration %d, %s)",
		completion.Task, completion.Iteration, FormatDuration(completion.Duration))
	if o.progress != nil {
		if err := o.progress.Append(entry); err != nil {
			o.logger.Warn("failed to append progress entry", "error", err)
			o.log(fmt.Sprintf("Could not update progress log: %v", err))
		}
	}

	o.prev = next
	o.stats = next.Stats()
	o.metrics.SetPending(o.stats.Pending)
	o.runner.ClearCurrentTask()

	o.events.OnTaskCompleted(completion)
	o.startCountdown()
}

func (o *Orchestrator) startCountdown() {
	seconds := o.cfg.Load().CountdownSeconds
	o.countdownGen++
	gen := o.countdownGen
	o.remaining = seconds

	if seconds > 0 {
		o.log(fmt.Sprintf("Next task in %ds", seconds))
	}
	o.emitStatus()

	result := o.countdown.Start(seconds, func(remaining int) {
		o.post(func() { o.handleCountdownTick(gen, remaining) })
	})
	go func() {
		if completed := <-result; completed {
			o.post(func() { o.handleCountdownDone(gen) })
		}
	}()
}

func (o *Orchestrator) cancelCountdown() {
	o.countdownGen++
	o.countdown.Stop()
	o.remaining = -1
}

func (o *Orchestrator) handleCountdownTick(gen uint64, remaining int) {
	if gen != o.countdownGen || o.state != stateRunning || o.paused {
		return
	}
	o.remaining = remaining
	o.events.OnCountdown(remaining)
}

func (o *Orchestrator) handleCountdownDone(gen uint64) {
	if gen != o.countdownGen {
		return
	}
	o.remaining = -1
	if o.state != stateRunning || o.paused {
		return
	}
	o.runNextTask()
}

func (o *Orchestrator) pauseLoop() {
	if o.state != stateRunning || o.paused {
		return
	}
	o.paused = true
	o.disableLedger()
	o.inactivity.Pause()
	o.cancelCountdown()
	o.metrics.SetLoopState(metrics.StatePaused)
	o.log("Loop paused")
	o.emitStatus()
}

func (o *Orchestrator) resumeLoop() {
	if o.state != stateRunning || !o.paused {
		return
	}
	o.paused = false
	o.metrics.SetLoopState(metrics.StateRunning)
	o.log("Loop resumed")

	inFlight := o.runner.CurrentTask()
	if inFlight == "" {
		o.emitStatus()
		o.runNextTask()
		return
	}

	// The ledger may have changed while paused.
	live := plan.Load(o.ledgerPath, o.logger)
	if o.oracle.HasCompleted(o.prev, live, inFlight) {
		o.completeTask(live)
		return
	}
	o.enableLedger(live)
	o.inactivity.Resume()
	o.emitStatus()
}

func (o *Orchestrator) stopLoop(reason string) {
	o.teardown()
	o.closeCreationWatcher()
	if o.state != stateRunning {
		return
	}
	o.finish(reason)
	o.log(fmt.Sprintf("Loop stopped: %s", reason))
	o.emitStatus()
}

func (o *Orchestrator) completeLoop() {
	elapsed := o.now().Sub(o.sessionStart)
	completed := len(o.runner.History())

	o.teardown()
	o.state = stateIdle
	o.paused = false
	o.metrics.SetLoopState(metrics.StateIdle)
	o.logEvent(o.eventLog.LoopCompleted(completed, o.runner.Iteration(), elapsed))
	o.logger.Info("loop completed", "completed", completed, "iterations", o.runner.Iteration())
	o.log(fmt.Sprintf("All tasks complete: %d completed in %s", completed, FormatDuration(elapsed)))
	o.notice("All tasks complete")
	o.emitStatus()
}

// finish records the stop and returns to idle. Callers tear down first.
func (o *Orchestrator) finish(reason string) {
	o.state = stateIdle
	o.paused = false
	o.metrics.SetLoopState(metrics.StateIdle)
	o.logEvent(o.eventLog.LoopStopped(reason, o.runner.Iteration()))
	o.logger.Info("loop stopped", "reason", reason, "iterations", o.runner.Iteration())
}

// teardown releases every watcher and timer owned by a running loop.
func (o *Orchestrator) teardown() {
	o.cancelCountdown()
	o.stopInactivity()
	o.cancelPrompt()
	o.ledgerArmed = false
	o.waiting = false

	if o.ledgerW != nil {
		if err := o.ledgerW.Close(); err != nil {
			o.logger.Warn("failed to close ledger watcher", "error", err)
		}
		o.ledgerW = nil
	}
	if o.activityW != nil {
		if err := o.activityW.Close(); err != nil {
			o.logger.Warn("failed to close activity watcher", "error", err)
		}
		o.activityW = nil
	}
	o.runner.ClearCurrentTask()
}

func (o *Orchestrator) handleInactivityTimeout(gen uint64) {
	if gen != o.inactivityGen || o.state != stateRunning || o.paused {
		return
	}

	cfg := o.cfg.Load()
	prompt := InactivityPrompt{
		Task:      o.runner.CurrentTask(),
		Iteration: o.runner.Iteration(),
		Idle:      cfg.InactivityTimeout,
		Waiting:   o.waiting,
	}
	o.metrics.InactivityTimeout()
	o.log(fmt.Sprintf("No file activity for %s", cfg.InactivityTimeout))

	if o.prompter == nil {
		o.handleInactivityChoice(o.promptGen, prompt.Task, ChoiceContinue)
		return
	}

	o.cancelPrompt()
	pgen := o.promptGen
	ctx, cancel := context.WithCancel(o.ctx)
	o.promptCancel = cancel

	go func() {
		choice, err := o.prompter.PromptInactivity(ctx, prompt)
		if err != nil {
			choice = ChoiceContinue
		}
		o.post(func() { o.handleInactivityChoice(pgen, prompt.Task, choice) })
	}()
}

func (o *Orchestrator) cancelPrompt() {
	o.promptGen++
	if o.promptCancel != nil {
		o.promptCancel()
		o.promptCancel = nil
	}
}

// handleInactivityChoice applies an answer to the prompt asked about task.
// Answers about a task that is no longer in flight are dropped.
func (o *Orchestrator) handleInactivityChoice(pgen uint64, task string, choice Choice) {
	if pgen != o.promptGen || o.state != stateRunning {
		return
	}
	if task == "" || task != o.runner.CurrentTask() {
		return
	}
	o.promptCancel = nil

	o.metrics.InactivityChoice(string(choice))
	o.logEvent(o.eventLog.InactivityTimeout(task, string(choice)))

	if o.paused && choice != ChoiceStop {
		// answered after a pause; keep waiting once resumed
		o.armInactivity()
		o.inactivity.Pause()
		return
	}

	switch choice {
	case ChoiceRetry:
		o.retryTask()
	case ChoiceSkip:
		o.skipTask()
	case ChoiceStop:
		o.stopLoop("stopped after inactivity")
	default:
		o.log("Continuing to wait")
		o.armInactivity()
	}
}

func (o *Orchestrator) retryTask() {
	task := o.runner.CurrentTask()
	if task == "" {
		o.runNextTask()
		return
	}
	o.disableLedger()
	if o.runner.CheckIterationLimit() {
		o.stopLoop("iteration limit reached")
		return
	}
	o.dispatchTask(task, plan.Load(o.ledgerPath, o.logger), true)
}

func (o *Orchestrator) skipTask() {
	task := o.runner.CurrentTask()
	o.disableLedger()
	o.stopInactivity()
	o.cancelPrompt()
	o.waiting = false
	o.inactivity.SetWaiting(false)
	o.runner.ClearCurrentTask()

	if task != "" {
		o.log(fmt.Sprintf("Skipped %q", task))
		o.logEvent(o.eventLog.TaskSkipped(o.runner.Iteration(), task))
	}
	o.startCountdown()
}

func (o *Orchestrator) runSingleStep() (ai.Channel, error) {
	if o.state == stateRunning {
		o.notice("Stop the loop before running a single step")
		return ai.ChannelNone, ErrAlreadyRunning
	}

	cfg := o.cfg.Load()
	o.ledgerPath = resolvePath(o.root, cfg.PRDPath)
	snap := plan.Load(o.ledgerPath, o.logger)
	o.stats = snap.Stats()

	task, ok := snap.Next()
	if !ok {
		o.notice(fmt.Sprintf("No pending tasks in %s", cfg.PRDPath))
		o.emitStatus()
		return ai.ChannelNone, ErrNoPendingTasks
	}

	if err := plan.NewProgressLog(resolvePath(o.root, cfg.ProgressPath)).Ensure(); err != nil {
		o.logger.Warn("failed to create progress log", "error", err)
	}

	o.log(fmt.Sprintf("Single step: %s", task.Description))
	channel := o.runner.Trigger(o.ctx, task.Description, false)
	o.metrics.TaskDispatched(string(channel))
	o.lastChannel = channel
	o.emitStatus()
	if channel == ai.ChannelNone {
		return channel, errors.New("dispatch failed")
	}
	return channel, nil
}

func (o *Orchestrator) generatePRD(description string) (ai.Channel, error) {
	if o.state == stateRunning {
		o.notice("Stop the loop before generating a task list")
		return ai.ChannelNone, ErrAlreadyRunning
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return ai.ChannelNone, errors.New("description is required")
	}

	cfg := o.cfg.Load()
	o.ledgerPath = resolvePath(o.root, cfg.PRDPath)
	if plan.LedgerExists(o.ledgerPath) {
		o.notice(fmt.Sprintf("%s already exists", cfg.PRDPath))
		return ai.ChannelNone, ErrLedgerExists
	}
	if o.dispatch == nil {
		return ai.ChannelNone, errors.New("no dispatcher configured")
	}

	o.closeCreationWatcher()
	o.creationGen++
	gen := o.creationGen
	w := o.watchers.Creation(o.ledgerPath)
	if err := w.Start(func(content string) {
		o.post(func() { o.handleLedgerCreated(gen, content) })
	}); err != nil {
		return ai.ChannelNone, fmt.Errorf("failed to watch for %s: %w", cfg.PRDPath, err)
	}
	o.creationW = w

	prompt := ai.BuildGenerationPrompt(description, cfg.PRDPath)
	channel, err := o.dispatch.Dispatch(o.ctx, ai.Request{Prompt: prompt, FreshContext: true})
	o.metrics.TaskDispatched(string(channel))
	if err != nil {
		o.closeCreationWatcher()
		o.log(fmt.Sprintf("Dispatch failed: %s", firstLine(err.Error())))
		return ai.ChannelNone, fmt.Errorf("failed to dispatch generation request: %w", err)
	}

	o.generating = true
	o.lastChannel = channel
	o.log(fmt.Sprintf("Generating %s via %s", cfg.PRDPath, channel))
	o.emitStatus()
	return channel, nil
}

func (o *Orchestrator) handleLedgerCreated(gen uint64, content string) {
	if gen != o.creationGen || o.creationW == nil {
		return
	}
	// the watcher disposes itself after firing
	o.creationW = nil
	o.generating = false

	o.stats = plan.NewSnapshot(content).Stats()
	o.notice(fmt.Sprintf("Task list created with %d tasks", o.stats.Total))
	o.emitStatus()
}

func (o *Orchestrator) closeCreationWatcher() {
	o.creationGen++
	o.generating = false
	if o.creationW != nil {
		if err := o.creationW.Close(); err != nil {
			o.logger.Warn("failed to close creation watcher", "error", err)
		}
		o.creationW = nil
	}
}

func (o *Orchestrator) snapshot() Snapshot {
	cfg := o.cfg.Load()
	s := Snapshot{
		Status:          o.status(),
		Iteration:       o.runner.Iteration(),
		MaxIterations:   cfg.MaxIterations,
		CurrentTask:     o.runner.CurrentTask(),
		Stats:           o.stats,
		Channel:         string(o.lastChannel),
		SessionStart:    o.sessionStart,
		TaskStart:       o.runner.TaskStart(),
		AverageDuration: o.runner.AverageDuration(),
		Countdown:       o.remaining,
		Generating:      o.generating,
	}
	s.EstimatedRemaining = s.AverageDuration * time.Duration(o.stats.Pending)
	return s
}

func (o *Orchestrator) status() Status {
	switch {
	case o.state != stateRunning:
		return StatusIdle
	case o.paused:
		return StatusPaused
	case o.waiting:
		return StatusWaiting
	default:
		return StatusRunning
	}
}

func (o *Orchestrator) emitStatus() {
	o.events.OnStatus(o.snapshot())
}

func (o *Orchestrator) log(line string) {
	o.logger.Info(line)
	o.events.OnLog(line)
}

func (o *Orchestrator) notice(msg string) {
	o.logger.Info("notice", "message", msg)
	o.events.OnNotice(msg)
}

func (o *Orchestrator) logEvent(err error) {
	if err != nil {
		o.logger.Warn("failed to write session event", "error", err)
	}
}
