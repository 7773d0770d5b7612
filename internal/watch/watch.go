// Package watch turns file-system notifications into the three signals the
// loop consumes: ledger edits, workspace activity, and ledger creation.
//
// All watchers log and swallow their own faults. A watcher that fails to
// start leaves completion detection degraded; the caller decides whether
// that is worth a notice.
package watch

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce absorbs the truncate-then-write burst most editors and
// agents produce when they rewrite a file.
const DefaultDebounce = 150 * time.Millisecond

// debouncer runs fn once events stop arriving for the configured delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// isContentEvent reports whether ev may have changed the file's content.
func isContentEvent(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

// readFile returns the file content, "" with exists=false when missing.
func readFile(path string) (content string, exists bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}
