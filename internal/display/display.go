// Package display is the headless operator surface: log lines scroll above
// a single status line that is redrawn once per second.
package display

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/pablasso/ralph/internal/executor"
)

var (
	noticeColor = color.New(color.FgYellow, color.Bold)
	doneColor   = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
	statusColor = map[executor.Status]*color.Color{
		executor.StatusIdle:    color.New(color.FgWhite),
		executor.StatusRunning: color.New(color.FgCyan),
		executor.StatusWaiting: color.New(color.FgCyan),
		executor.StatusPaused:  color.New(color.FgYellow),
	}
)

// Display renders loop events to a terminal. It implements executor.Events.
type Display struct {
	mu       sync.Mutex
	writer   io.Writer
	live     bool
	snap     executor.Snapshot
	now      func() time.Time
	ticker   *time.Ticker
	done     chan struct{}
	wg       sync.WaitGroup // Ensures goroutine exits before Stop() returns
	active   bool
	lastLine string
}

// New creates a Display writing to w. The status line is only drawn when
// w is a terminal; otherwise events are printed as plain lines.
func New(w io.Writer) *Display {
	live := false
	if f, ok := w.(*os.File); ok {
		live = term.IsTerminal(int(f.Fd()))
	}
	return &Display{writer: w, live: live, now: time.Now, snap: executor.Snapshot{Countdown: -1}}
}

// Start begins the status line update loop. A stopped Display may be
// started again.
func (d *Display) Start() {
	d.mu.Lock()
	if d.active || !d.live {
		d.mu.Unlock()
		return
	}
	d.active = true
	d.done = make(chan struct{})
	d.ticker = time.NewTicker(time.Second)
	d.wg.Add(1)
	d.mu.Unlock()

	go d.updateLoop()
}

// Stop halts the update loop and clears the status line.
// Blocks until the update goroutine has exited to prevent race conditions.
func (d *Display) Stop() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.ticker.Stop()
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	d.clearLine()
	d.lastLine = ""
	d.mu.Unlock()
}

func (d *Display) OnStatus(s executor.Snapshot) {
	d.mu.Lock()
	d.snap = s
	d.mu.Unlock()
	d.render()
}

func (d *Display) OnLog(line string) {
	d.printAbove(dimColor.Sprint(d.now().Format("15:04:05")) + " " + line)
}

func (d *Display) OnCountdown(remaining int) {
	d.mu.Lock()
	d.snap.Countdown = remaining
	d.mu.Unlock()
	d.render()
}

func (d *Display) OnNotice(msg string) {
	d.printAbove(noticeColor.Sprint("! " + msg))
}

func (d *Display) OnTaskCompleted(c executor.TaskCompletion) {
	d.printAbove(doneColor.Sprintf("✓ %s (%s)", c.Task, executor.FormatDuration(c.Duration)))
}

func (d *Display) updateLoop() {
	defer d.wg.Done()
	d.render()

	d.mu.Lock()
	ticks, done := d.ticker.C, d.done
	d.mu.Unlock()

	for {
		select {
		case <-ticks:
			d.render()
		case <-done:
			return
		}
	}
}

// render redraws the status line when it changed.
func (d *Display) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}

	line := FormatLine(d.snap, d.now())
	if line == d.lastLine {
		return
	}
	d.lastLine = line
	fmt.Fprintf(d.writer, "\r\033[K%s", line)
}

func (d *Display) printAbove(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		d.clearLine()
	}
	fmt.Fprintln(d.writer, line)
	if d.active && d.lastLine != "" {
		fmt.Fprint(d.writer, d.lastLine)
	}
}

// clearLine clears the status line. Callers hold d.mu.
func (d *Display) clearLine() {
	fmt.Fprint(d.writer, "\r\033[K")
}

// FormatLine builds the status line for a snapshot.
func FormatLine(s executor.Snapshot, now time.Time) string {
	c, ok := statusColor[s.Status]
	if !ok {
		c = statusColor[executor.StatusIdle]
	}
	line := c.Sprint(string(s.Status))

	if s.Stats.Total > 0 {
		line += fmt.Sprintf(" │ %d/%d done", s.Stats.Completed, s.Stats.Total)
	}
	if s.Iteration > 0 {
		if s.MaxIterations > 0 {
			line += fmt.Sprintf(" │ iter %d/%d", s.Iteration, s.MaxIterations)
		} else {
			line += fmt.Sprintf(" │ iter %d", s.Iteration)
		}
	}
	if s.CurrentTask != "" {
		line += " │ " + truncate(s.CurrentTask, 40)
		if !s.TaskStart.IsZero() {
			line += " ⏱ " + executor.FormatDuration(now.Sub(s.TaskStart))
		}
	}
	if s.Countdown >= 0 && s.Status == executor.StatusRunning {
		line += fmt.Sprintf(" │ next in %ds", s.Countdown)
	}
	if s.EstimatedRemaining > 0 {
		line += " │ ~" + executor.FormatDuration(s.EstimatedRemaining) + " left"
	}
	return line
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
