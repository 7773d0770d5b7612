package views

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/executor"
	"github.com/pablasso/ralph/internal/tui/components"
	"github.com/pablasso/ralph/internal/tui/msgs"
	"github.com/pablasso/ralph/internal/tui/styles"
)

// Controller is the part of the orchestrator the loop view drives.
type Controller interface {
	StartLoop(ctx context.Context) error
	TogglePause(ctx context.Context) error
	StopLoop(ctx context.Context) error
	RunSingleStep(ctx context.Context) (ai.Channel, error)
}

// focus selects which panel receives scroll keys.
type focus int

const (
	focusLog focus = iota
	focusAgent
)

// pendingPrompt is an inactivity question waiting for a key.
type pendingPrompt struct {
	prompt executor.InactivityPrompt
	reply  chan<- executor.Choice
}

// LoopModel is the loop monitor: status on the left, loop log and agent
// output on the right, and an overlay for inactivity prompts.
type LoopModel struct {
	ctrl       Controller
	ledgerName string

	snap      executor.Snapshot
	completed []executor.TaskCompletion
	notice    string
	prompt    *pendingPrompt
	quitting  bool
	now       func() time.Time

	spinner spinner.Model
	log     components.OutputViewport
	agent   components.OutputViewport
	focus   focus

	width  int
	height int
}

// tickMsg refreshes elapsed times.
type tickMsg time.Time

// NewLoopModel creates the monitor for ctrl. ledgerName labels the title.
func NewLoopModel(ctrl Controller, ledgerName string) LoopModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.SelectedStyle

	return LoopModel{
		ctrl:       ctrl,
		ledgerName: ledgerName,
		snap:       executor.Snapshot{Status: executor.StatusIdle, Countdown: -1},
		now:        time.Now,
		spinner:    s,
		log:        components.NewOutputViewport(80, 10, 0), // Will be resized
		agent:      components.NewOutputViewport(80, 10, 0),
	}
}

// Init implements tea.Model.
func (m LoopModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Snapshot returns the last status received.
func (m LoopModel) Snapshot() executor.Snapshot {
	return m.snap
}

// Prompting reports whether the inactivity overlay is showing.
func (m LoopModel) Prompting() bool {
	return m.prompt != nil
}

// Notice returns the message shown in the footer.
func (m LoopModel) Notice() string {
	return m.notice
}

// Update implements tea.Model.
func (m LoopModel) Update(msg tea.Msg) (LoopModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updatePanelSizes()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tickCmd()

	case msgs.StatusMsg:
		m.snap = msg.Snapshot
		if m.snap.Status == executor.StatusIdle && m.snap.Iteration == 0 {
			m.completed = nil
		}
		return m, nil

	case msgs.LogMsg:
		m.log.AddLine(styles.SubtleStyle.Render(m.now().Format("15:04:05")) + " " + msg.Line)
		return m, nil

	case msgs.CountdownMsg:
		m.snap.Countdown = msg.Remaining
		return m, nil

	case msgs.NoticeMsg:
		m.notice = msg.Text
		return m, nil

	case msgs.TaskCompletedMsg:
		m.completed = append(m.completed, msg.Completion)
		return m, nil

	case msgs.AgentOutputMsg:
		m.agent.AddLine(msg.Line)
		return m, nil

	case msgs.InactivityPromptMsg:
		if m.prompt != nil {
			// a newer question replaces the old one
			m.prompt.reply <- executor.ChoiceContinue
		}
		m.prompt = &pendingPrompt{prompt: msg.Prompt, reply: msg.Reply}
		return m, nil

	case msgs.PromptDismissedMsg:
		m.prompt = nil
		return m, nil

	case msgs.CommandDoneMsg:
		if msg.Err != nil && !isReported(msg.Err) {
			m.notice = fmt.Sprintf("%s failed: %v", msg.Action, msg.Err)
		}
		if m.quitting && msg.Action == "stop" {
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}

	return m, nil
}

// isReported is true for rejections the loop already announced as notices.
func isReported(err error) bool {
	return errors.Is(err, executor.ErrAlreadyRunning) ||
		errors.Is(err, executor.ErrNoPendingTasks) ||
		errors.Is(err, executor.ErrNotRunning)
}

func (m LoopModel) handleKeyPress(msg tea.KeyMsg) (LoopModel, tea.Cmd) {
	if m.prompt != nil {
		return m.handlePromptKey(msg)
	}

	switch {
	case key.Matches(msg, loopKeys.Start):
		m.notice = ""
		return m, m.command("start", m.ctrl.StartLoop)
	case key.Matches(msg, loopKeys.Pause):
		m.notice = ""
		return m, m.command("pause", m.ctrl.TogglePause)
	case key.Matches(msg, loopKeys.Stop):
		return m, m.command("stop", m.ctrl.StopLoop)
	case key.Matches(msg, loopKeys.Step):
		m.notice = ""
		return m, m.command("step", func(ctx context.Context) error {
			_, err := m.ctrl.RunSingleStep(ctx)
			return err
		})
	case key.Matches(msg, loopKeys.Quit):
		if m.snap.Status == executor.StatusIdle {
			return m, tea.Quit
		}
		m.quitting = true
		m.notice = "Stopping..."
		return m, m.command("stop", m.ctrl.StopLoop)
	case key.Matches(msg, loopKeys.Switch):
		if m.focus == focusLog {
			m.focus = focusAgent
		} else {
			m.focus = focusLog
		}
		return m, nil
	case key.Matches(msg, loopKeys.Scroll):
		var cmd tea.Cmd
		if m.focus == focusAgent {
			m.agent, cmd = m.agent.Update(msg)
		} else {
			m.log, cmd = m.log.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

func (m LoopModel) handlePromptKey(msg tea.KeyMsg) (LoopModel, tea.Cmd) {
	choice, ok := promptChoice(msg)
	if !ok {
		return m, nil
	}
	m.prompt.reply <- choice
	m.prompt = nil
	return m, nil
}

func promptChoice(msg tea.KeyMsg) (executor.Choice, bool) {
	for _, c := range executor.Choices {
		if key.Matches(msg, promptKeys[c]) {
			return c, true
		}
	}
	return "", false
}

// command runs fn off the UI goroutine; the loop reports back through
// events while fn waits for its reply.
func (m LoopModel) command(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return msgs.CommandDoneMsg{Action: action, Err: fn(context.Background())}
	}
}

func (m *LoopModel) updatePanelSizes() {
	if m.width == 0 || m.height == 0 {
		return
	}

	rightWidth := (m.width * 60 / 100) - 4
	if rightWidth < 10 {
		rightWidth = 10
	}

	// title(2) + status bar(1) + two bordered panels(4) + two headers(2)
	available := m.height - 9
	if available < 6 {
		available = 6
	}
	logHeight := available / 2
	m.log.SetSize(rightWidth, logHeight)
	m.agent.SetSize(rightWidth, available-logHeight)
}

// View implements tea.Model.
func (m LoopModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := styles.TitleStyle.Render("Ralph: " + m.ledgerName)
	b.WriteString(lipgloss.PlaceHorizontal(m.width, lipgloss.Center, title))
	b.WriteString("\n")

	leftWidth := (m.width * 40 / 100) - 2
	rightWidth := (m.width * 60 / 100) - 2
	panelHeight := m.height - 4
	if panelHeight < 8 {
		panelHeight = 8
	}

	left := styles.PanelStyle.Width(leftWidth).Height(panelHeight - 2).
		Render(m.renderStatusPanel(leftWidth - 2))

	var right string
	if m.prompt != nil {
		right = styles.OverlayStyle.Width(rightWidth).Height(panelHeight - 2).
			Render(m.renderPrompt(rightWidth - 2))
	} else {
		right = m.renderOutputPanels(rightWidth, panelHeight)
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	b.WriteString("\n")
	b.WriteString(components.NewStatusBar().Render(m.width, m.notice, bindingsFor(m.snap.Status, m.prompt != nil)))
	return b.String()
}

func (m LoopModel) renderStatusPanel(width int) string {
	s := m.snap
	now := m.now()
	var lines []string

	status := styles.Status(s.Status).Render(strings.ToUpper(string(s.Status)))
	if s.Status == executor.StatusRunning || s.Status == executor.StatusWaiting {
		status = m.spinner.View() + " " + status
	}
	lines = append(lines, status, "")

	if s.Stats.Total > 0 {
		lines = append(lines,
			fmt.Sprintf("Tasks: %d/%d done, %d pending", s.Stats.Completed, s.Stats.Total, s.Stats.Pending),
			components.NewTaskBar(s.Stats, max(width-6, 5)).View(),
			"")
	}

	if s.MaxIterations > 0 {
		lines = append(lines, fmt.Sprintf("Iteration: %d/%d", s.Iteration, s.MaxIterations))
	} else {
		lines = append(lines, fmt.Sprintf("Iteration: %d", s.Iteration))
	}

	if s.CurrentTask != "" {
		lines = append(lines, "", "Current:", styles.SelectedStyle.Render(truncateRunes(s.CurrentTask, width)))
		if !s.TaskStart.IsZero() {
			lines = append(lines, "Working for "+executor.FormatDuration(now.Sub(s.TaskStart)))
		}
		if s.Channel != "" {
			lines = append(lines, "Sent via "+s.Channel)
		}
	}

	if s.Countdown >= 0 && s.Status == executor.StatusRunning {
		lines = append(lines, "", fmt.Sprintf("Next task in %ds", s.Countdown))
	}
	if s.Generating {
		lines = append(lines, "", m.spinner.View()+" Generating task list...")
	}

	if !s.SessionStart.IsZero() && s.Status != executor.StatusIdle {
		lines = append(lines, "", "Session: "+executor.FormatDuration(now.Sub(s.SessionStart)))
	}
	if s.AverageDuration > 0 {
		lines = append(lines, "Average: "+executor.FormatDuration(s.AverageDuration))
	}
	if s.EstimatedRemaining > 0 {
		lines = append(lines, "Remaining: ~"+executor.FormatDuration(s.EstimatedRemaining))
	}

	if len(m.completed) > 0 {
		lines = append(lines, "", "Completed:")
		start := max(len(m.completed)-5, 0)
		for _, c := range m.completed[start:] {
			line := fmt.Sprintf("✓ %s (%s)", c.Task, executor.FormatDuration(c.Duration))
			lines = append(lines, styles.SuccessStyle.Render(truncateRunes(line, width)))
		}
	}

	return strings.Join(lines, "\n")
}

func (m LoopModel) renderOutputPanels(width, height int) string {
	panel := func(name string, f focus, body string) string {
		if m.focus == f {
			return styles.FocusedPanelStyle.Width(width).Render(styles.SelectedStyle.Render(name) + "\n" + body)
		}
		return styles.PanelStyle.Width(width).Render(styles.SubtleStyle.Render(name) + "\n" + body)
	}

	logPanel := panel("Loop", focusLog, m.log.View())
	agentPanel := panel("Agent", focusAgent, m.agent.View())
	return lipgloss.JoinVertical(lipgloss.Left, logPanel, agentPanel)
}

func (m LoopModel) renderPrompt(width int) string {
	p := m.prompt.prompt
	lines := []string{
		styles.NoticeStyle.Render("Possible stall"),
		"",
		lipgloss.NewStyle().Width(width).Render(p.Message()),
		"",
	}
	for _, c := range executor.Choices {
		h := promptKeys[c].Help()
		lines = append(lines, fmt.Sprintf("[%s] %s", h.Key, h.Desc))
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
