package ai

import (
	"fmt"
	"strings"
)

// PromptInput is everything the task instruction is assembled from.
type PromptInput struct {
	Task         string
	LedgerPath   string
	Ledger       string
	ProgressPath string
	Progress     string
	Requirements []string
	Iteration    int
	Retry        bool
}

// BuildTaskPrompt assembles the instruction handed to the agent for one task.
func BuildTaskPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString("You are working through a task list one item at a time.\n\n")

	sb.WriteString("## Your Task\n")
	sb.WriteString(in.Task)
	sb.WriteString("\n\n")

	if in.Retry {
		sb.WriteString("**Note**: A previous attempt at this task stalled. ")
		sb.WriteString("Check what was left behind before starting over.\n\n")
	}

	sb.WriteString(fmt.Sprintf("## Task List (%s)\n", in.LedgerPath))
	if strings.TrimSpace(in.Ledger) == "" {
		sb.WriteString("(empty)\n")
	} else {
		sb.WriteString(strings.TrimRight(in.Ledger, "\n"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("## Progress So Far (%s)\n", in.ProgressPath))
	if strings.TrimSpace(in.Progress) == "" {
		sb.WriteString("(nothing recorded yet)\n")
	} else {
		sb.WriteString(strings.TrimRight(in.Progress, "\n"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(in.Requirements) > 0 {
		sb.WriteString("## Requirements\n")
		for i, req := range in.Requirements {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, req))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Work only on the task above\n")
	sb.WriteString(fmt.Sprintf("2. When it is done, change its line in %s from `- [ ]` to `- [x]`\n", in.LedgerPath))
	sb.WriteString("3. If you cannot finish it, mark it `- [!]` and explain why in the task list\n")
	sb.WriteString(fmt.Sprintf("4. Do not edit %s; it is maintained for you\n\n", in.ProgressPath))

	sb.WriteString("IMPORTANT: Updating the task list is how completion is detected. Do not mark the task done unless it is.\n")

	return sb.String()
}

// BuildGenerationPrompt asks the agent to write a fresh task list.
func BuildGenerationPrompt(description, ledgerPath string) string {
	var sb strings.Builder

	sb.WriteString("You are a technical project planner. Turn the request below into a task list.\n\n")

	sb.WriteString("## Request\n")
	sb.WriteString(strings.TrimSpace(description))
	sb.WriteString("\n\n")

	sb.WriteString("## Output\n")
	sb.WriteString(fmt.Sprintf("Write the task list to %s as markdown. Every task is one line:\n\n", ledgerPath))
	sb.WriteString("- [ ] Short imperative description of the task\n\n")

	sb.WriteString("## Guidelines\n")
	sb.WriteString("- Tasks must be completable in order; later tasks may depend on earlier ones\n")
	sb.WriteString("- Each task should fit comfortably in one agent session\n")
	sb.WriteString("- Put headings and notes on their own lines, never inside a task line\n")
	sb.WriteString("- Do not start implementing anything\n")

	return sb.String()
}
