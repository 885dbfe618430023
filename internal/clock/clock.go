// Package clock abstracts wall time and one-shot timers so that timing
// behaviour can be driven deterministically in tests.
package clock

import "time"

// Clock provides the current time and cancellable one-shot timers.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real clock) or from Advance
	// (fake clock) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
