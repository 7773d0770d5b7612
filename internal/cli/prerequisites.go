package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pablasso/ralph/internal/ai"
	"github.com/pablasso/ralph/internal/config"
	"github.com/pablasso/ralph/internal/git"
	"github.com/pablasso/ralph/internal/logging"
	"github.com/pablasso/ralph/internal/plan"
)

// PrerequisiteError represents a failed prerequisite check with helpful remediation info.
type PrerequisiteError struct {
	Check   string
	Message string
	Help    string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("%s: %s\n\n%s", e.Check, e.Message, e.Help)
}

// checkDispatch fails when no dispatch channel could ever succeed.
func checkDispatch(agent config.Agent) error {
	if ai.IsAvailable(agent.Command) || agent.ChatCommand != "" || agent.ClipboardFallback {
		return nil
	}
	return &PrerequisiteError{
		Check:   "Coding agent",
		Message: fmt.Sprintf("%q not found in PATH and no fallback is configured", agent.Command),
		Help:    "Install the agent CLI, set agent.chat_command, or enable agent.clipboard_fallback in .ralph/config.yaml.",
	}
}

// workspace is the directory a command operates on, with its settings,
// diagnostic log and run lock.
type workspace struct {
	root string
	cfg  *config.FileSource
	log  *logging.Logger
	lock *plan.RunLock
}

// openWorkspace resolves the workspace and opens its diagnostic log.
// The run lock is not taken.
func openWorkspace(opts *rootOptions) (*workspace, error) {
	root := opts.dir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", opts.dir, err)
	}

	stateDir := filepath.Join(root, config.Dir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", stateDir, err)
	}

	initial, err := config.Read(config.Path(root))
	if err != nil {
		return nil, err
	}

	log := logging.New(logging.Options{
		Path:  filepath.Join(stateDir, config.LogFileName),
		Level: initial.SlogLevel(),
	})

	return &workspace{
		root: root,
		cfg:  config.NewFileSource(config.Path(root), log.Logger).WithOverride(opts.apply),
		log:  log,
		lock: plan.NewRunLock(stateDir),
	}, nil
}

// apply overlays command-line flags on the file settings.
func (o *rootOptions) apply(cfg *config.Config) {
	if o.prd != "" {
		cfg.PRDPath = o.prd
	}
	if o.progress != "" {
		cfg.ProgressPath = o.progress
	}
	if o.maxIterations >= 0 {
		cfg.MaxIterations = o.maxIterations
	}
}

func (w *workspace) logger() *slog.Logger {
	return w.log.Logger
}

func (w *workspace) dispatcher(cfg config.Config) *ai.Chain {
	return ai.NewDispatcher(cfg.Agent, w.root, w.logger())
}

// warnOutsideRepo notes that .gitignore rules only apply inside a repository.
func (w *workspace) warnOutsideRepo(ctx context.Context) {
	if !git.InRepo(ctx, w.root) {
		w.logger().Warn("workspace is not a git repository", "root", w.root)
	}
}

func (w *workspace) Close() error {
	return w.log.Close()
}

func (w *workspace) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(w.root, rel)
}
