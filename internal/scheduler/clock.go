// Package scheduler decides when local mutations are pushed upstream.
//
// The Debouncer implements trailing-edge debounce: every Trigger restarts a
// fixed-duration timer and the callback runs once, after the burst ends.
// Timers come from a Clock so tests can advance time by hand.
package scheduler

import "time"

// Timer is a pending callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock schedules with the runtime timer.
type RealClock struct{}

// AfterFunc calls time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
