package executor

import (
	"context"
	"time"

	"github.com/pablasso/ralph/internal/plan"
)

// Status is the loop state shown to the operator.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusWaiting Status = "waiting"
)

// Snapshot is a point-in-time view of the loop for display.
type Snapshot struct {
	Status        Status
	Iteration     int
	MaxIterations int
	CurrentTask   string
	Stats         plan.Stats
	Channel       string

	SessionStart       time.Time
	TaskStart          time.Time
	AverageDuration    time.Duration
	EstimatedRemaining time.Duration

	// Countdown is the seconds left before the next dispatch, or -1.
	Countdown int
	// Generating is true while a task list is being generated.
	Generating bool
}

// Events receives callbacks from the orchestrator. Implement this interface
// in a UI to receive updates. All methods are called from the orchestrator's
// goroutine and must not call back into it synchronously.
type Events interface {
	// OnStatus is called whenever the snapshot changes
	OnStatus(s Snapshot)

	// OnLog is called for each operator-facing log line
	OnLog(line string)

	// OnCountdown is called once per second during the review countdown
	OnCountdown(remaining int)

	// OnNotice is called for rejections and other one-off messages
	OnNotice(msg string)

	// OnTaskCompleted is called after a completion is recorded
	OnTaskCompleted(c TaskCompletion)
}

// NopEvents discards every event.
type NopEvents struct{}

func (NopEvents) OnStatus(Snapshot)              {}
func (NopEvents) OnLog(string)                   {}
func (NopEvents) OnCountdown(int)                {}
func (NopEvents) OnNotice(string)                {}
func (NopEvents) OnTaskCompleted(TaskCompletion) {}

// MultiEvents fans every event out to each member in order.
type MultiEvents []Events

func (m MultiEvents) OnStatus(s Snapshot) {
	for _, e := range m {
		e.OnStatus(s)
	}
}

func (m MultiEvents) OnLog(line string) {
	for _, e := range m {
		e.OnLog(line)
	}
}

func (m MultiEvents) OnCountdown(remaining int) {
	for _, e := range m {
		e.OnCountdown(remaining)
	}
}

func (m MultiEvents) OnNotice(msg string) {
	for _, e := range m {
		e.OnNotice(msg)
	}
}

func (m MultiEvents) OnTaskCompleted(c TaskCompletion) {
	for _, e := range m {
		e.OnTaskCompleted(c)
	}
}

// Choice is the operator's answer to an inactivity prompt.
type Choice string

const (
	ChoiceContinue Choice = "continue"
	ChoiceRetry    Choice = "retry"
	ChoiceSkip     Choice = "skip"
	ChoiceStop     Choice = "stop"
)

// Choices lists the inactivity answers in display order.
var Choices = []Choice{ChoiceContinue, ChoiceRetry, ChoiceSkip, ChoiceStop}

// Label is the operator-facing text for a choice.
func (c Choice) Label() string {
	switch c {
	case ChoiceRetry:
		return "Retry Task"
	case ChoiceSkip:
		return "Skip Task"
	case ChoiceStop:
		return "Stop Loop"
	default:
		return "Continue Waiting"
	}
}

// InactivityPrompt describes a stall for the operator.
type InactivityPrompt struct {
	Task      string
	Iteration int
	Idle      time.Duration
	// Waiting is true when the stall happened while the agent was working.
	Waiting bool
}

// Message is the question shown to the operator.
func (p InactivityPrompt) Message() string {
	if p.Task == "" {
		return "No file activity for " + p.Idle.String() + ". What next?"
	}
	if p.Waiting {
		return "No file activity for " + p.Idle.String() + " while the agent works on \"" + p.Task + "\". What next?"
	}
	return "No file activity for " + p.Idle.String() + " on \"" + p.Task + "\". What next?"
}

// Prompter asks the operator how to handle a stall. It may block; the
// orchestrator calls it off its own goroutine and cancels ctx when the
// question becomes moot. An error is treated as ChoiceContinue.
type Prompter interface {
	PromptInactivity(ctx context.Context, p InactivityPrompt) (Choice, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, p InactivityPrompt) (Choice, error)

func (f PrompterFunc) PromptInactivity(ctx context.Context, p InactivityPrompt) (Choice, error) {
	return f(ctx, p)
}
