package tui

import (
	"log/slog"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/config"
	"github.com/pablasso/ralph/internal/metrics"
)

// Options configures TUI startup behavior.
type Options struct {
	// Root is the workspace the loop runs in.
	Root       string
	Config     config.Source
	Dispatcher ai.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}
