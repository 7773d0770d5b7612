package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pablasso/ralph/internal/logging"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

// LookPath resolves executables. Replaced in tests.
var LookPath = exec.LookPath

// PromptPlaceholder in an argument list is replaced with the instruction.
const PromptPlaceholder = "{prompt}"

// terminateGrace is how long a process gets to exit after SIGTERM.
const terminateGrace = 3 * time.Second

// ErrAgentBusy is returned when an agent is still running and the request
// did not ask for a fresh context.
var ErrAgentBusy = errors.New("agent is still working on a previous instruction")

// IsAvailable checks if command exists in PATH.
func IsAvailable(command string) bool {
	if command == "" {
		return false
	}
	_, err := LookPath(command)
	return err == nil
}

// ExpandArgs substitutes the prompt into args. Without a placeholder the
// prompt is appended as the last argument.
func ExpandArgs(args []string, prompt string) []string {
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, arg := range args {
		if strings.Contains(arg, PromptPlaceholder) {
			arg = strings.ReplaceAll(arg, PromptPlaceholder, prompt)
			replaced = true
		}
		out = append(out, arg)
	}
	if !replaced {
		out = append(out, prompt)
	}
	return out
}

// process is a background command whose output goes to a log file.
type process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

func (p *process) start(cmd *exec.Cmd, logger *slog.Logger, closeAfter io.Closer) error {
	if err := cmd.Start(); err != nil {
		if closeAfter != nil {
			closeAfter.Close()
		}
		return err
	}

	exited := make(chan struct{})
	p.mu.Lock()
	p.cmd = cmd
	p.exited = exited
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		if closeAfter != nil {
			closeAfter.Close()
		}
		if err != nil {
			logger.Info("agent process exited", "pid", cmd.Process.Pid, "error", err)
		} else {
			logger.Info("agent process exited", "pid", cmd.Process.Pid)
		}
		close(exited)
	}()
	return nil
}

func (p *process) running() bool {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// terminate asks the process to exit and kills it after a grace period.
func (p *process) terminate() {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-exited:
		return
	default:
	}

	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(terminateGrace):
		cmd.Process.Kill()
		<-exited
	}
}

// wait blocks until the current process exits or ctx is done.
func (p *process) wait(ctx context.Context) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AgentChannel runs the configured agent CLI in the background, one
// instruction at a time. Output is appended to a log file.
type AgentChannel struct {
	command string
	args    []string
	workDir string
	logPath string
	logger  *slog.Logger

	proc process
}

// NewAgentChannel creates the direct-invocation channel.
func NewAgentChannel(command string, args []string, workDir, logPath string, logger *slog.Logger) *AgentChannel {
	return &AgentChannel{
		command: command,
		args:    args,
		workDir: workDir,
		logPath: logPath,
		logger:  logging.OrDiscard(logger),
	}
}

// Channel implements Deliverer.
func (a *AgentChannel) Channel() Channel { return ChannelAgent }

// Deliver starts the agent with the instruction and returns once it runs.
func (a *AgentChannel) Deliver(ctx context.Context, req Request) error {
	if !IsAvailable(a.command) {
		return fmt.Errorf("%s not found in PATH: %w", a.command, ErrUnavailable)
	}

	if a.proc.running() {
		if !req.FreshContext {
			return ErrAgentBusy
		}
		a.logger.Info("terminating previous agent for a fresh context")
		a.proc.terminate()
	}

	logFile, err := openAgentLog(a.logPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(logFile, "\n=== %s dispatch ===\n", time.Now().UTC().Format(time.RFC3339))

	cmd := CommandContext(ctx, a.command, ExpandArgs(a.args, req.Prompt)...)
	cmd.Dir = a.workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := a.proc.start(cmd, a.logger, logFile); err != nil {
		return fmt.Errorf("failed to start %s: %w", a.command, err)
	}
	a.logger.Info("agent started", "command", a.command, "pid", cmd.Process.Pid)
	return nil
}

// Running reports whether an agent process is still alive.
func (a *AgentChannel) Running() bool {
	return a.proc.running()
}

// Wait blocks until the current agent process exits.
func (a *AgentChannel) Wait(ctx context.Context) error {
	return a.proc.wait(ctx)
}

// Close terminates a running agent.
func (a *AgentChannel) Close() error {
	a.proc.terminate()
	return nil
}

func openAgentLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create agent log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open agent log: %w", err)
	}
	return f, nil
}
