package ai

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/pablasso/ralph/internal/config"
	"github.com/pablasso/ralph/internal/logging"
)

// ChatChannel pipes the instruction into a generic chat command on stdin.
type ChatChannel struct {
	command string
	args    []string
	workDir string
	logPath string
	logger  *slog.Logger

	proc process
}

// NewChatChannel creates the chat-surface channel. An empty command makes
// the channel unavailable.
func NewChatChannel(command string, args []string, workDir, logPath string, logger *slog.Logger) *ChatChannel {
	return &ChatChannel{
		command: command,
		args:    args,
		workDir: workDir,
		logPath: logPath,
		logger:  logging.OrDiscard(logger),
	}
}

// Channel implements Deliverer.
func (c *ChatChannel) Channel() Channel { return ChannelChat }

// Deliver implements Deliverer.
func (c *ChatChannel) Deliver(ctx context.Context, req Request) error {
	if c.command == "" {
		return fmt.Errorf("no chat command configured: %w", ErrUnavailable)
	}
	if !IsAvailable(c.command) {
		return fmt.Errorf("%s not found in PATH: %w", c.command, ErrUnavailable)
	}
	if req.FreshContext {
		c.proc.terminate()
	}

	logFile, err := openAgentLog(c.logPath)
	if err != nil {
		return err
	}

	cmd := CommandContext(ctx, c.command, c.args...)
	cmd.Dir = c.workDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := c.proc.start(cmd, c.logger, logFile); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.command, err)
	}
	return nil
}

// Close terminates a running chat process.
func (c *ChatChannel) Close() error {
	c.proc.terminate()
	return nil
}

// writeClipboard is replaced in tests.
var writeClipboard = clipboard.WriteAll

// ClipboardChannel copies the instruction for the operator to paste.
type ClipboardChannel struct{}

// Channel implements Deliverer.
func (ClipboardChannel) Channel() Channel { return ChannelClipboard }

// Deliver implements Deliverer.
func (ClipboardChannel) Deliver(_ context.Context, req Request) error {
	if clipboard.Unsupported {
		return fmt.Errorf("no clipboard utility found: %w", ErrUnavailable)
	}
	if err := writeClipboard(req.Prompt); err != nil {
		return fmt.Errorf("failed to copy instruction: %w", err)
	}
	return nil
}

// NewDispatcher builds the default agent, chat, clipboard chain from settings.
func NewDispatcher(agent config.Agent, workDir string, logger *slog.Logger) *Chain {
	logPath := filepath.Join(workDir, config.Dir, config.AgentLogFile)

	channels := []Deliverer{
		NewAgentChannel(agent.Command, agent.Args, workDir, logPath, logger),
	}
	if agent.ChatCommand != "" {
		channels = append(channels, NewChatChannel(agent.ChatCommand, agent.ChatArgs, workDir, logPath, logger))
	}
	if agent.ClipboardFallback {
		channels = append(channels, ClipboardChannel{})
	}
	return NewChain(logger, channels...)
}
