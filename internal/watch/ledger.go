package watch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/zeebo/blake3"

	"github.com/pablasso/ralph/internal/logging"
)

// LedgerChange is delivered when the ledger content differs from the last
// checkpoint.
type LedgerChange struct {
	Content string
	// Summary is a short line count such as "+1 -1 lines".
	Summary string
}

// LedgerWatcher observes the ledger document. The subscription lives from
// Start to Close; Enable and Disable only gate the callback.
type LedgerWatcher struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu         sync.Mutex
	enabled    bool
	checkpoint string
	digest     [32]byte
	onChange   func(LedgerChange)
	fsw        *fsnotify.Watcher
	pending    *debouncer
	done       chan struct{}
}

// NewLedgerWatcher creates a disabled watcher for the ledger at path.
func NewLedgerWatcher(path string, logger *slog.Logger) *LedgerWatcher {
	return &LedgerWatcher{
		path:     filepath.Clean(path),
		logger:   logging.OrDiscard(logger),
		debounce: DefaultDebounce,
	}
}

// WithDebounce overrides the settle delay applied to bursts of events.
func (w *LedgerWatcher) WithDebounce(d time.Duration) *LedgerWatcher {
	w.debounce = d
	return w
}

// Start subscribes to the ledger's directory. The watcher starts disabled.
func (w *LedgerWatcher) Start(onChange func(LedgerChange)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create ledger watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.mu.Lock()
	w.onChange = onChange
	w.fsw = fsw
	w.pending = newDebouncer(w.debounce, w.check)
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(fsw, w.pending, w.done)
	return nil
}

func (w *LedgerWatcher) loop(fsw *fsnotify.Watcher, pending *debouncer, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !isContentEvent(ev) {
				continue
			}
			pending.trigger()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ledger watcher error", "path", w.path, "error", err)
		}
	}
}

// check compares the live document against the checkpoint.
func (w *LedgerWatcher) check() {
	content, exists, err := readFile(w.path)
	if err != nil {
		w.logger.Warn("failed to read ledger after change", "path", w.path, "error", err)
		return
	}
	if !exists {
		return
	}

	w.mu.Lock()
	if !w.enabled || w.onChange == nil {
		w.mu.Unlock()
		return
	}
	digest := blake3.Sum256([]byte(content))
	if digest == w.digest {
		w.mu.Unlock()
		return
	}
	previous := w.checkpoint
	w.checkpoint = content
	w.digest = digest
	callback := w.onChange
	w.mu.Unlock()

	change := LedgerChange{Content: content, Summary: DiffSummary(previous, content)}
	w.logger.Debug("ledger changed", "path", w.path, "summary", change.Summary)
	callback(change)
}

// Enable lets changes through to the callback. The live document is
// compared against the checkpoint right away, so edits made while disabled
// are still delivered.
func (w *LedgerWatcher) Enable() {
	w.mu.Lock()
	w.enabled = true
	pending := w.pending
	w.mu.Unlock()

	if pending != nil {
		pending.trigger()
	}
}

// Disable suppresses the callback without dropping the subscription.
func (w *LedgerWatcher) Disable() {
	w.mu.Lock()
	w.enabled = false
	w.mu.Unlock()
}

// Enabled reports whether changes are currently delivered.
func (w *LedgerWatcher) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// UpdateContent sets the checkpoint that later changes are compared against.
func (w *LedgerWatcher) UpdateContent(content string) {
	w.mu.Lock()
	w.checkpoint = content
	w.digest = blake3.Sum256([]byte(content))
	w.mu.Unlock()
}

// Close drops the subscription. It is safe to call more than once.
func (w *LedgerWatcher) Close() error {
	w.mu.Lock()
	fsw, pending, done := w.fsw, w.pending, w.done
	w.fsw, w.pending, w.done = nil, nil, nil
	w.enabled = false
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	pending.stop()
	err := fsw.Close()
	<-done
	return err
}

// DiffSummary counts added and removed lines between two documents.
func DiffSummary(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	added, removed := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		}
	}
	return fmt.Sprintf("+%d -%d lines", added, removed)
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
