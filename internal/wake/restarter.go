package wake

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MrWong99/jarvis/internal/clock"
)

// DefaultRestartDelay is the constant delay between recognition restarts.
const DefaultRestartDelay = time.Second

// RestarterOption configures a [Restarter].
type RestarterOption func(*Restarter)

// WithRestartClock sets the clock used for restart timers.
func WithRestartClock(c clock.Clock) RestarterOption {
	return func(r *Restarter) { r.clock = c }
}

// WithBackOff sets the delay policy. [backoff.Stop] from the policy ends
// restarting until the next Reset.
func WithBackOff(b backoff.BackOff) RestarterOption {
	return func(r *Restarter) { r.policy = b }
}

// Restarter schedules a supervised restart of an external resource. When a
// timer fires, guard is consulted again and restart only runs if it still
// reports true, so a restart never races a state change made during the
// delay. At most one restart is pending at any time.
type Restarter struct {
	clock   clock.Clock
	policy  backoff.BackOff
	guard   func() bool
	restart func()

	mu    sync.Mutex
	timer clock.Timer
	gen   uint64
}

// NewRestarter returns a Restarter that calls restart when guard allows it.
// The default policy is a constant [DefaultRestartDelay].
func NewRestarter(restart func(), guard func() bool, opts ...RestarterOption) *Restarter {
	r := &Restarter{
		clock:   clock.Real{},
		policy:  backoff.NewConstantBackOff(DefaultRestartDelay),
		guard:   guard,
		restart: restart,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Schedule arms a restart after the next policy delay, replacing any pending
// one. It returns the delay, or false when guard already refuses or the
// policy gave up.
func (r *Restarter) Schedule() (time.Duration, bool) {
	if !r.guard() {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.policy.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	r.stopLocked()
	r.gen++
	gen := r.gen
	r.timer = r.clock.AfterFunc(d, func() { r.fire(gen) })
	return d, true
}

func (r *Restarter) fire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.timer == nil {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	if !r.guard() {
		return
	}
	r.restart()
}

// Cancel drops a pending restart.
func (r *Restarter) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
}

func (r *Restarter) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Reset restores the policy to its initial delay. Call it after the
// resource ran successfully.
func (r *Restarter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy.Reset()
}

// Pending reports whether a restart is armed.
func (r *Restarter) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}
