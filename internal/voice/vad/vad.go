// Package vad implements the energy-based voice activity detector used while
// a session is connected.
//
// A frame whose RMS exceeds the threshold marks the user as speaking and
// (re)arms a hangover timer; the user is considered silent once the timer
// expires without another loud frame. Frames at or below the threshold never
// end speech on their own.
package vad

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/clock"
	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/audio"
)

const (
	// DefaultThreshold is the RMS level above which a frame counts as speech.
	DefaultThreshold = 0.01

	// DefaultHangover is how long speaking persists after the last loud frame.
	DefaultHangover = 400 * time.Millisecond
)

// Config holds the detector parameters. Zero values select the defaults.
type Config struct {
	Threshold float64
	Hangover  time.Duration
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithClock sets the clock driving the hangover timer.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithBus publishes speaking transitions to bus.
func WithBus(bus *events.Bus) Option {
	return func(d *Detector) { d.bus = bus }
}

// WithMetrics records transitions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithOnChange registers fn to be called on every transition.
func WithOnChange(fn func(speaking bool)) Option {
	return func(d *Detector) { d.onChange = fn }
}

// Detector tracks whether the user is speaking. It is safe for concurrent use.
type Detector struct {
	threshold float64
	hangover  time.Duration
	clock     clock.Clock
	bus       *events.Bus
	metrics   *observe.Metrics
	onChange  func(bool)

	mu       sync.Mutex
	speaking bool
	timer    clock.Timer
	gen      uint64
}

// New creates a Detector.
func New(cfg Config, opts ...Option) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Hangover <= 0 {
		cfg.Hangover = DefaultHangover
	}
	d := &Detector{
		threshold: cfg.Threshold,
		hangover:  cfg.Hangover,
		clock:     clock.Real{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Process feeds one captured frame to the detector.
func (d *Detector) Process(f audio.Frame) {
	if audio.RMS(f.Samples) <= d.threshold {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.speaking {
		d.setLocked(true)
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.hangover, func() { d.expire(gen) })
}

// expire ends speech unless the timer was superseded.
func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || !d.speaking {
		return
	}
	d.timer = nil
	d.setLocked(false)
}

// Speaking reports the current state.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset cancels the pending timer and ends speech if active.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.speaking {
		d.setLocked(false)
	}
}

func (d *Detector) setLocked(speaking bool) {
	d.speaking = speaking
	d.bus.Speaking(speaking)
	if d.metrics != nil {
		d.metrics.RecordSpeaking(context.Background(), speaking)
	}
	if d.onChange != nil {
		d.onChange(speaking)
	}
}
