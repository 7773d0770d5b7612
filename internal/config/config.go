// Package config holds the operator-tunable policy for the loop and loads
// it from .ralph/config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Workspace-relative locations of ralph's own files.
const (
	Dir          = ".ralph"
	FileName     = "config.yaml"
	LogFileName  = "ralph.log"
	EventsFile   = "events.jsonl"
	AgentLogFile = "agent.log"
)

// Defaults for loop control.
const (
	DefaultPRDPath           = "PRD.md"
	DefaultProgressPath      = "progress.txt"
	DefaultMaxIterations     = 50
	DefaultCountdownSeconds  = 12
	DefaultInactivityTimeout = 60 * time.Second
	DefaultAgentCommand      = "claude"
)

// Requirements are the extra duties the dispatched instruction asks the
// agent to perform alongside the task itself.
type Requirements struct {
	WriteTests bool `yaml:"write_tests"`
	RunTests   bool `yaml:"run_tests"`
	TypeCheck  bool `yaml:"type_check"`
	Lint       bool `yaml:"lint"`
	UpdateDocs bool `yaml:"update_docs"`
	Commit     bool `yaml:"commit"`
}

// Enabled returns one instruction line per active requirement, in a fixed order.
func (r Requirements) Enabled() []string {
	var lines []string
	if r.WriteTests {
		lines = append(lines, "Write unit tests for the new behaviour")
	}
	if r.RunTests {
		lines = append(lines, "Run the test suite and make sure it passes")
	}
	if r.TypeCheck {
		lines = append(lines, "Run the type checker and fix any errors")
	}
	if r.Lint {
		lines = append(lines, "Run the linter and fix any findings")
	}
	if r.UpdateDocs {
		lines = append(lines, "Update documentation affected by the change")
	}
	if r.Commit {
		lines = append(lines, "Commit all changes with a descriptive message")
	}
	return lines
}

// Agent describes the external commands used to dispatch instructions.
type Agent struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args,omitempty"`
	ChatCommand       string   `yaml:"chat_command,omitempty"`
	ChatArgs          []string `yaml:"chat_args,omitempty"`
	ClipboardFallback bool     `yaml:"clipboard_fallback"`
}

// Config is the full set of loop settings. It is read-only input to the
// loop and is re-fetched at every decision point.
type Config struct {
	PRDPath           string        `yaml:"prd_path"`
	ProgressPath      string        `yaml:"progress_path"`
	MaxIterations     int           `yaml:"max_iterations"`
	CountdownSeconds  int           `yaml:"countdown_seconds"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	LogLevel          string        `yaml:"log_level"`
	Requirements      Requirements  `yaml:"requirements"`
	Agent             Agent         `yaml:"agent"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PRDPath:           DefaultPRDPath,
		ProgressPath:      DefaultProgressPath,
		MaxIterations:     DefaultMaxIterations,
		CountdownSeconds:  DefaultCountdownSeconds,
		InactivityTimeout: DefaultInactivityTimeout,
		LogLevel:          "info",
		Requirements: Requirements{
			RunTests: true,
			Commit:   true,
		},
		Agent: Agent{
			Command:           DefaultAgentCommand,
			Args:              []string{"-p", "{prompt}", "--dangerously-skip-permissions"},
			ClipboardFallback: true,
		},
	}
}

// Validate checks for values the loop cannot work with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.PRDPath) == "" {
		problems = append(problems, "prd_path is required")
	}
	if strings.TrimSpace(c.ProgressPath) == "" {
		problems = append(problems, "progress_path is required")
	}
	if c.MaxIterations < 0 {
		problems = append(problems, "max_iterations must be >= 0")
	}
	if c.CountdownSeconds < 0 {
		problems = append(problems, "countdown_seconds must be >= 0")
	}
	if c.InactivityTimeout <= 0 {
		problems = append(problems, "inactivity_timeout must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug|info|warn|error", c.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Path returns the config file location under root.
func Path(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Read loads a config file on top of the defaults.
// A missing file is not an error and yields Default().
func Read(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Source supplies the current configuration.
type Source interface {
	Load() Config
}

// Static is a Source that always returns the same configuration.
type Static Config

// Load implements Source.
func (s Static) Load() Config {
	return Config(s)
}

// FileSource re-reads the config file on every Load so edits take effect
// on the next loop cycle. A broken file keeps the last good config.
type FileSource struct {
	path      string
	logger    *slog.Logger
	overrides []func(*Config)

	mu      sync.Mutex
	last    Config
	hasLast bool
}

// NewFileSource creates a source backed by the file at path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// WithOverride registers a mutation applied after every read, used for CLI flags.
func (s *FileSource) WithOverride(fn func(*Config)) *FileSource {
	s.overrides = append(s.overrides, fn)
	return s
}

// Load implements Source.
func (s *FileSource) Load() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := Read(s.path)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("config unusable, keeping previous settings", "path", s.path, "error", err)
		}
		if s.hasLast {
			return s.last
		}
	}

	for _, fn := range s.overrides {
		fn(&cfg)
	}
	s.last = cfg
	s.hasLast = true
	return cfg
}
