// Package timer provides the two delays that pace the loop: the review
// countdown between tasks and the inactivity watchdog.
package timer

import (
	"sync"
	"time"
)

// Countdown is a single-shot, restartable delay that reports the remaining
// seconds on every tick. Starting a new countdown cancels the previous one.
type Countdown struct {
	interval time.Duration

	mu      sync.Mutex
	gen     uint64
	stop    chan struct{}
	running bool
}

// NewCountdown creates a countdown ticking every interval. Zero means one second.
func NewCountdown(interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{interval: interval}
}

// Start counts down from seconds to 0, calling onTick with the remaining
// value right away and then once per interval. The returned channel
// receives true when the full duration elapsed or false when the countdown
// was stopped or superseded, and is then closed.
//
// onTick runs on the countdown's goroutine without any lock held, so a tick
// can race with a concurrent Stop; callers that need a hard cut-off must
// guard their handler.
func (c *Countdown) Start(seconds int, onTick func(remaining int)) <-chan bool {
	c.Stop()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	stop := make(chan struct{})
	c.stop = stop
	c.running = true
	c.mu.Unlock()

	result := make(chan bool, 1)
	go c.run(gen, seconds, onTick, stop, result)
	return result
}

func (c *Countdown) run(gen uint64, remaining int, onTick func(int), stop <-chan struct{}, result chan<- bool) {
	defer close(result)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if !c.isCurrent(gen) {
			result <- false
			return
		}
		if onTick != nil {
			onTick(max(remaining, 0))
		}
		if remaining <= 0 {
			c.finish(gen)
			result <- true
			return
		}

		select {
		case <-stop:
			result <- false
			return
		case <-ticker.C:
			remaining--
		}
	}
}

// Stop cancels an outstanding countdown. It is safe to call at any time.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	c.gen++
	close(c.stop)
}

// Running reports whether a countdown is in progress.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Countdown) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.running
}

func (c *Countdown) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.running = false
	}
}
