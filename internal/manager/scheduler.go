package manager

import "time"

// Timer is a handle to a scheduled heartbeat tick.
type Timer interface {
	// Stop cancels the timer. It reports whether the cancellation
	// prevented the callback from firing.
	Stop() bool
}

// Scheduler schedules delayed callbacks. The manager never sleeps on its
// own: all heartbeat timing goes through this interface so tests can drive
// virtual time.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realScheduler struct{}

// NewScheduler returns the wall-clock scheduler backed by time.AfterFunc.
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
