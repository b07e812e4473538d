package orchestrator

import "time"

// Clock schedules delayed callbacks. Tests substitute a fake.
type Clock interface {
	// AfterFunc calls f on its own goroutine after d. The returned function
	// stops the timer and reports whether it was still pending.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// RealClock uses time.AfterFunc.
type RealClock struct{}

// AfterFunc implements Clock.
func (RealClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
