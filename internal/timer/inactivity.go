package timer

import (
	"sync"
	"time"
)

// DefaultInactivityTimeout is how long the loop waits for file activity
// before asking the operator what to do.
const DefaultInactivityTimeout = 60 * time.Second

// MonitorState is the watchdog's externally visible state.
type MonitorState int

const (
	MonitorStopped MonitorState = iota
	MonitorRunning
	MonitorWaiting
)

func (s MonitorState) String() string {
	switch s {
	case MonitorStopped:
		return "stopped"
	case MonitorRunning:
		return "running"
	case MonitorWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// InactivityMonitor fires once if no activity is recorded within the
// timeout. After firing it stays inert until Start is called again.
type InactivityMonitor struct {
	mu        sync.Mutex
	timeout   time.Duration
	timer     *time.Timer
	gen       uint64
	onTimeout func()
	armed     bool
	paused    bool
	waiting   bool
}

// NewInactivityMonitor creates a stopped monitor.
func NewInactivityMonitor(timeout time.Duration) *InactivityMonitor {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return &InactivityMonitor{timeout: timeout}
}

// SetTimeout changes the window used from the next time the timer is armed.
func (m *InactivityMonitor) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
}

// Start arms the watchdog, replacing any previous callback and timer.
func (m *InactivityMonitor) Start(onTimeout func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onTimeout = onTimeout
	m.armed = true
	m.paused = false
	m.arm()
}

// RecordActivity pushes the deadline back by a full window.
// It has no effect while stopped or paused.
func (m *InactivityMonitor) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.armed || m.paused {
		return
	}
	m.arm()
}

// SetWaiting marks whether the loop is blocked on the external agent.
// It only affects State, not timing.
func (m *InactivityMonitor) SetWaiting(waiting bool) {
	m.mu.Lock()
	m.waiting = waiting
	m.mu.Unlock()
}

// Pause stops the timer but keeps the monitor armed for Resume.
func (m *InactivityMonitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.armed || m.paused {
		return
	}
	m.paused = true
	m.disarm()
}

// Resume restarts a paused monitor with a fresh window.
func (m *InactivityMonitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.armed || !m.paused {
		return
	}
	m.paused = false
	m.arm()
}

// Stop fully disarms the monitor.
func (m *InactivityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.armed = false
	m.paused = false
	m.waiting = false
	m.disarm()
}

// State reports whether the monitor is stopped, running, or running while
// the loop waits on the agent.
func (m *InactivityMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case !m.armed:
		return MonitorStopped
	case m.waiting:
		return MonitorWaiting
	default:
		return MonitorRunning
	}
}

// Paused reports whether the monitor is armed but paused.
func (m *InactivityMonitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed && m.paused
}

// arm must be called with mu held.
func (m *InactivityMonitor) arm() {
	m.disarm()
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.timeout, func() { m.fire(gen) })
}

// disarm must be called with mu held.
func (m *InactivityMonitor) disarm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *InactivityMonitor) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.armed || m.paused {
		m.mu.Unlock()
		return
	}
	m.armed = false
	m.timer = nil
	callback := m.onTimeout
	m.mu.Unlock()

	if callback != nil {
		callback()
	}
}
