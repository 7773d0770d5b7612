// Package msgs defines the messages the loop sends into the TUI.
package msgs

import "github.com/pablasso/ralph/internal/executor"

// StatusMsg carries a new loop snapshot.
type StatusMsg struct {
	Snapshot executor.Snapshot
}

// LogMsg is one operator-facing log line.
type LogMsg struct {
	Line string
}

// CountdownMsg reports seconds left before the next dispatch.
type CountdownMsg struct {
	Remaining int
}

// NoticeMsg is a one-off message such as a rejected command.
type NoticeMsg struct {
	Text string
}

// TaskCompletedMsg is sent after a completion is recorded.
type TaskCompletedMsg struct {
	Completion executor.TaskCompletion
}

// AgentOutputMsg is one line read from the agent log.
type AgentOutputMsg struct {
	Line string
}

// InactivityPromptMsg asks the operator how to handle a stall. Exactly one
// choice should be sent on Reply.
type InactivityPromptMsg struct {
	Prompt executor.InactivityPrompt
	Reply  chan<- executor.Choice
}

// PromptDismissedMsg closes an inactivity prompt the loop no longer needs.
type PromptDismissedMsg struct{}

// CommandDoneMsg reports the result of an operator command.
type CommandDoneMsg struct {
	Action string
	Err    error
}
