package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pablasso/ralph/internal/logging"
)

// tailPoll re-reads the log even without events, for filesystems that
// drop notifications.
const tailPoll = 500 * time.Millisecond

// OutputTail follows the agent log and reports each displayable line.
// Agents that emit stream-json are decoded; anything else passes through.
type OutputTail struct {
	path   string
	logger *slog.Logger
	offset int64
	buf    strings.Builder
}

// NewOutputTail creates a tail for path. Content already in the file is
// skipped.
func NewOutputTail(path string, logger *slog.Logger) *OutputTail {
	t := &OutputTail{path: path, logger: logging.OrDiscard(logger)}
	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
	}
	return t
}

// Run delivers lines to onLine until ctx is cancelled.
func (t *OutputTail) Run(ctx context.Context, onLine func(string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ticker := time.NewTicker(tailPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == filepath.Clean(t.path) {
				t.drain(onLine)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("agent log watcher error", "error", err)
		case <-ticker.C:
			t.drain(onLine)
		}
	}
}

// drain reads everything appended since the last call.
func (t *OutputTail) drain(onLine func(string)) {
	f, err := os.Open(t.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			t.logger.Debug("failed to open agent log", "error", err)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		// truncated; start over
		t.offset = 0
		t.buf.Reset()
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}

	r := bufio.NewReader(f)
	for {
		chunk, err := r.ReadString('\n')
		t.offset += int64(len(chunk))
		t.buf.WriteString(chunk)
		if err != nil {
			return
		}
		line := strings.TrimRight(t.buf.String(), "\r\n")
		t.buf.Reset()
		if text := FormatStreamLine(line); text != "" {
			onLine(text)
		}
	}
}

type streamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`
	Message *struct {
		Content []streamContent `json:"content"`
	} `json:"message,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

type streamContent struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// FormatStreamLine turns one agent output line into display text. JSON
// stream events are summarised; other lines are returned trimmed. Events
// with nothing to show yield "".
func FormatStreamLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return line
	}

	var event streamEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return line
	}

	switch event.Type {
	case "assistant":
		if event.Message == nil {
			return ""
		}
		var parts []string
		for _, c := range event.Message.Content {
			switch c.Type {
			case "text":
				if text := strings.TrimSpace(c.Text); text != "" {
					parts = append(parts, text)
				}
			case "tool_use":
				if c.Name == "" {
					continue
				}
				if target := toolTarget(c.Name, c.Input); target != "" {
					parts = append(parts, fmt.Sprintf("→ %s %s", c.Name, target))
				} else {
					parts = append(parts, "→ "+c.Name)
				}
			}
		}
		return strings.Join(parts, "\n")
	case "result":
		if event.IsError {
			return "Agent finished with an error: " + firstLine(event.Result)
		}
		if event.TotalCostUSD > 0 {
			return fmt.Sprintf("Agent finished ($%.2f)", event.TotalCostUSD)
		}
		return "Agent finished"
	}
	return ""
}

func toolTarget(name string, input map[string]interface{}) string {
	var key string
	switch name {
	case "Read", "Write", "Edit":
		key = "file_path"
	case "Glob", "Grep":
		key = "pattern"
	case "Task":
		key = "description"
	case "Bash":
		key = "command"
	case "WebFetch":
		key = "url"
	default:
		return ""
	}
	s, _ := input[key].(string)
	return firstLine(s)
}
