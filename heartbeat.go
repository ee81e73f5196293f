package pushwire

import (
	"sync"
	"time"
)

// DefaultHeartbeatWindow is how long the connection may stay silent before
// it is presumed dead. Any inbound frame, including system frames, rearms
// the window.
const DefaultHeartbeatWindow = 35 * time.Second

// heartbeatMonitor is a watchdog over inbound traffic: a single one-shot
// deadline rearmed on every frame. If it fires before being rearmed or
// canceled, the connection is treated as dead even though the transport
// reports no error. Only the most recently armed deadline is honored.
type heartbeatMonitor struct {
	mu       sync.Mutex
	clock    Clock
	window   time.Duration
	onExpire func()

	timer    Timer
	armed    bool
	lastSeen time.Time
	deadline time.Time
}

func newHeartbeatMonitor(clock Clock, window time.Duration, onExpire func()) *heartbeatMonitor {
	return &heartbeatMonitor{
		clock:    clock,
		window:   window,
		onExpire: onExpire,
	}
}

// arm starts the watchdog. It replaces any previously armed deadline.
func (m *heartbeatMonitor) arm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.lastSeen = now
	m.deadline = now.Add(m.window)
	m.armed = true

	if m.timer == nil {
		m.timer = m.clock.AfterFunc(m.window, m.fire)
		return
	}
	m.timer.Reset(m.window)
}

// rearm pushes the deadline out by another window. A no-op unless armed.
func (m *heartbeatMonitor) rearm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.armed {
		return
	}

	now := m.clock.Now()
	m.lastSeen = now
	m.deadline = now.Add(m.window)
	m.timer.Reset(m.window)
}

// cancel disarms the watchdog.
func (m *heartbeatMonitor) cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.armed = false
	if m.timer != nil {
		m.timer.Stop()
	}
}

// lastActivity returns the time of the last inbound frame seen while armed.
func (m *heartbeatMonitor) lastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastSeen
}

// fire runs when the timer expires. A rearm that raced the firing moved
// the deadline forward, in which case the timer is pushed out to the new
// deadline instead of expiring.
func (m *heartbeatMonitor) fire() {
	m.mu.Lock()
	if !m.armed {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	if now.Before(m.deadline) {
		m.timer.Reset(m.deadline.Sub(now))
		m.mu.Unlock()
		return
	}

	// Expired for real. Disarm so a silent window fires at most once.
	m.armed = false
	m.mu.Unlock()

	m.onExpire()
}
