package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pablasso/ralph/internal/logging"
)

// Channel names the surface that accepted an instruction.
type Channel string

const (
	ChannelNone      Channel = ""
	ChannelAgent     Channel = "agent"
	ChannelChat      Channel = "chat"
	ChannelClipboard Channel = "clipboard"
)

// ErrUnavailable means a channel is not configured or not installed.
var ErrUnavailable = errors.New("channel unavailable")

// Request is one instruction to hand to the agent.
type Request struct {
	Prompt string
	// FreshContext asks the channel to drop any previous conversation first.
	FreshContext bool
}

// Dispatcher hands instructions to the external agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Channel, error)
}

// Deliverer is a single delivery channel.
type Deliverer interface {
	Channel() Channel
	Deliver(ctx context.Context, req Request) error
}

// Chain tries each channel in order and reports the first that accepts.
type Chain struct {
	channels []Deliverer
	logger   *slog.Logger
}

// NewChain builds a chain over channels.
func NewChain(logger *slog.Logger, channels ...Deliverer) *Chain {
	return &Chain{channels: channels, logger: logging.OrDiscard(logger)}
}

// Dispatch implements Dispatcher.
func (c *Chain) Dispatch(ctx context.Context, req Request) (Channel, error) {
	var errs []error
	for _, ch := range c.channels {
		if err := ctx.Err(); err != nil {
			return ChannelNone, err
		}
		err := ch.Deliver(ctx, req)
		if err == nil {
			c.logger.Info("instruction dispatched", "channel", ch.Channel(), "bytes", len(req.Prompt))
			return ch.Channel(), nil
		}
		if !errors.Is(err, ErrUnavailable) {
			c.logger.Warn("dispatch channel failed", "channel", ch.Channel(), "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", ch.Channel(), err))
	}
	if len(errs) == 0 {
		return ChannelNone, fmt.Errorf("no dispatch channels configured: %w", ErrUnavailable)
	}
	return ChannelNone, errors.Join(errs...)
}

// Close releases channels that hold resources, such as a running agent.
func (c *Chain) Close() error {
	var errs []error
	for _, ch := range c.channels {
		if closer, ok := ch.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Agent returns the chain's agent channel, if any.
func (c *Chain) Agent() *AgentChannel {
	for _, ch := range c.channels {
		if agent, ok := ch.(*AgentChannel); ok {
			return agent
		}
	}
	return nil
}
