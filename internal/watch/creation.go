package watch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pablasso/ralph/internal/logging"
)

// CreationWatcher fires once when a file first appears, then disposes itself.
type CreationWatcher struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	once     sync.Once
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	pending  *debouncer
	done     chan struct{}
	onCreate func(content string)
}

// NewCreationWatcher creates a watcher for the file at path.
func NewCreationWatcher(path string, logger *slog.Logger) *CreationWatcher {
	return &CreationWatcher{
		path:     filepath.Clean(path),
		logger:   logging.OrDiscard(logger),
		debounce: DefaultDebounce,
	}
}

// WithDebounce overrides the settle delay before the new file is read.
func (w *CreationWatcher) WithDebounce(d time.Duration) *CreationWatcher {
	w.debounce = d
	return w
}

// Start begins watching. If the file already exists the callback fires
// right away.
func (w *CreationWatcher) Start(onCreate func(content string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create creation watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	done := make(chan struct{})
	pending := newDebouncer(w.debounce, w.check)
	w.mu.Lock()
	w.fsw = fsw
	w.pending = pending
	w.done = done
	w.onCreate = onCreate
	w.mu.Unlock()

	go w.loop(fsw, pending, done)

	// covers a file written between the caller's existence check and Add
	pending.trigger()
	return nil
}

func (w *CreationWatcher) loop(fsw *fsnotify.Watcher, pending *debouncer, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == w.path && isContentEvent(ev) {
				pending.trigger()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("creation watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *CreationWatcher) check() {
	content, exists, err := readFile(w.path)
	if err != nil {
		w.logger.Warn("failed to read created file", "path", w.path, "error", err)
		return
	}
	if !exists {
		return
	}

	w.mu.Lock()
	callback := w.onCreate
	active := w.fsw != nil
	w.mu.Unlock()
	if !active {
		return
	}

	w.once.Do(func() {
		go w.Close()
		if callback != nil {
			callback(content)
		}
	})
}

// Close stops watching. It is safe to call more than once.
func (w *CreationWatcher) Close() error {
	w.mu.Lock()
	fsw, pending, done := w.fsw, w.pending, w.done
	w.fsw, w.pending, w.done = nil, nil, nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	pending.stop()
	err := fsw.Close()
	<-done
	return err
}
