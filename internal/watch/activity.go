package watch

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/pablasso/ralph/internal/logging"
)

// alwaysIgnored are never reported as activity. .ralph holds our own logs,
// which would otherwise keep the watchdog alive forever.
var alwaysIgnored = []string{".git/", ".ralph/", "node_modules/"}

// ActivityWatcher reports any file-system activity under a workspace root,
// skipping paths the workspace's .gitignore excludes.
type ActivityWatcher struct {
	root   string
	logger *slog.Logger
	rules  *ignore.GitIgnore

	mu   sync.Mutex
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewActivityWatcher creates a watcher rooted at root.
func NewActivityWatcher(root string, logger *slog.Logger) *ActivityWatcher {
	return &ActivityWatcher{
		root:   filepath.Clean(root),
		logger: logging.OrDiscard(logger),
		rules:  loadIgnoreRules(root),
	}
}

func loadIgnoreRules(root string) *ignore.GitIgnore {
	rules := append([]string(nil), alwaysIgnored...)
	if lines, err := readLines(filepath.Join(root, ".gitignore")); err == nil {
		rules = append(rules, lines...)
	}
	return ignore.CompileIgnoreLines(rules...)
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// Ignored reports whether a path under the root is excluded from activity.
func (w *ActivityWatcher) Ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	return w.rules.MatchesPath(rel) || w.rules.MatchesPath(rel+"/")
}

// Start watches every non-ignored directory under the root, adding new
// directories as they appear. onActivity receives the touched path.
func (w *ActivityWatcher) Start(onActivity func(path string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create activity watcher: %w", err)
	}
	if err := w.addTree(fsw, w.root); err != nil {
		fsw.Close()
		return err
	}

	done := make(chan struct{})
	w.mu.Lock()
	w.fsw = fsw
	w.done = done
	w.mu.Unlock()

	go w.loop(fsw, onActivity, done)
	return nil
}

func (w *ActivityWatcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to walk %s: %w", dir, err)
			}
			w.logger.Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.Ignored(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *ActivityWatcher) loop(fsw *fsnotify.Watcher, onActivity func(string), done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.Ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			if onActivity != nil {
				onActivity(ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("activity watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (w *ActivityWatcher) Close() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw, w.done = nil, nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}
