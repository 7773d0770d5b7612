package plan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ProgressHeader is written when the progress log is created.
const ProgressHeader = "# Progress Log\n\n"

// progressTimeFormat renders ISO-8601 timestamps with millisecond precision.
const progressTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ProgressLog is an append-only, human-readable record of completed work.
// Each entry is a single "[<timestamp>] <text>" line.
type ProgressLog struct {
	path string
	now  func() time.Time
}

// NewProgressLog creates a progress log writing to path.
func NewProgressLog(path string) *ProgressLog {
	return &ProgressLog{
		path: path,
		now:  time.Now,
	}
}

// Path returns the log file location.
func (p *ProgressLog) Path() string {
	return p.path
}

// Ensure creates the log with its header if it does not exist yet.
func (p *ProgressLog) Ensure() error {
	if _, err := os.Stat(p.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat progress log: %w", err)
	}

	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create progress log directory: %w", err)
		}
	}

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create progress log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(ProgressHeader); err != nil {
		return fmt.Errorf("failed to write progress log header: %w", err)
	}
	return nil
}

// Append writes a timestamped entry, creating the log first if needed.
func (p *ProgressLog) Append(entry string) error {
	if err := p.Ensure(); err != nil {
		return err
	}

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open progress log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", p.now().UTC().Format(progressTimeFormat), entry)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append progress entry: %w", err)
	}
	return nil
}

// Read returns the log content, or an empty string if it does not exist.
func (p *ProgressLog) Read() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read progress log: %w", err)
	}
	return string(data), nil
}
