package pushwire

import "time"

// Clock abstracts wall-clock time and one-shot timers so that the
// heartbeat liveness policy can be tested without real timers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run after d and returns the timer.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a one-shot timer created by a Clock.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the timer
	// was still pending.
	Stop() bool

	// Reset re-arms the timer to fire after d. It reports whether the
	// timer was still pending.
	Reset(d time.Duration) bool
}

// realClock implements Clock using the time package.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (t realTimer) Stop() bool                 { return t.t.Stop() }
func (t realTimer) Reset(d time.Duration) bool { return t.t.Reset(d) }
