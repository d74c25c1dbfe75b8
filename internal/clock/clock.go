// Package clock abstracts wall-clock time and one-shot timers so that
// debounce and restart logic can be driven deterministically in tests.
//
// Production code uses [Real]; tests use the manual clock in the fake
// sub-package.
package clock

import (
	"context"
	"time"
)

// Timer is a handle to a pending callback created by [Clock.AfterFunc].
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer; false means it already fired or was stopped.
	Stop() bool
}

// Clock is the time source used by timing-sensitive components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d to elapse and then calls f in its own goroutine
	// (or synchronously for manual clocks).
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the [Clock] backed by package time.
type Real struct{}

var _ Clock = Real{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Sleep blocks for d on c or until ctx is done, whichever comes first. A
// non-positive d returns immediately.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	t := c.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
