// Package mock provides in-memory implementations of the audio device
// interfaces for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can assert
// on resource acquisition and release, and expose fields that control return
// values.
//
// Typical usage:
//
//	capture := &mock.CaptureFactory{}
//	playback := &mock.PlaybackFactory{}
//	// ... run the code under test ...
//	if capture.Open() != 0 { t.Fatal("microphone left open") }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
)

var (
	_ audio.CaptureFactory  = (*CaptureFactory)(nil)
	_ audio.CaptureContext  = (*CaptureContext)(nil)
	_ audio.MediaStream     = (*Stream)(nil)
	_ audio.PlaybackFactory = (*PlaybackFactory)(nil)
	_ audio.PlaybackContext = (*PlaybackContext)(nil)
	_ audio.Voice           = (*Voice)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// CaptureFactory is a mock [audio.CaptureFactory].
type CaptureFactory struct {
	mu sync.Mutex

	// NewErr, if non-nil, is returned by NewCaptureContext.
	NewErr error

	// OpenErrs is consumed in order by OpenMicrophone; once exhausted,
	// OpenMicrophone succeeds.
	OpenErrs []error

	// Contexts records every context created.
	Contexts []*CaptureContext
}

// NewCaptureContext records and returns a new CaptureContext.
func (f *CaptureFactory) NewCaptureContext(sampleRate int) (audio.CaptureContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := &CaptureContext{factory: f, Rate: sampleRate}
	f.Contexts = append(f.Contexts, c)
	return c, nil
}

func (f *CaptureFactory) nextOpenErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.OpenErrs) == 0 {
		return nil
	}
	err := f.OpenErrs[0]
	f.OpenErrs = f.OpenErrs[1:]
	return err
}

// Streams returns every stream opened through any context of f.
func (f *CaptureFactory) Streams() []*Stream {
	f.mu.Lock()
	ctxs := append([]*CaptureContext(nil), f.Contexts...)
	f.mu.Unlock()
	var out []*Stream
	for _, c := range ctxs {
		c.mu.Lock()
		out = append(out, c.Streams...)
		c.mu.Unlock()
	}
	return out
}

// Open returns the number of streams that are still open.
func (f *CaptureFactory) Open() int {
	n := 0
	for _, s := range f.Streams() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// CaptureContext is a mock [audio.CaptureContext].
type CaptureContext struct {
	factory *CaptureFactory
	mu      sync.Mutex

	// Rate is the sample rate passed to NewCaptureContext.
	Rate int

	// OpenCalls records the constraints of every OpenMicrophone call.
	OpenCalls []audio.Constraints

	// Streams records every stream successfully opened.
	Streams []*Stream

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// SampleRate returns Rate.
func (c *CaptureContext) SampleRate() int { return c.Rate }

// OpenMicrophone records the call and returns a new Stream or the next
// configured error.
func (c *CaptureContext) OpenMicrophone(_ context.Context, cons audio.Constraints) (audio.MediaStream, error) {
	c.mu.Lock()
	c.OpenCalls = append(c.OpenCalls, cons)
	c.mu.Unlock()
	if c.factory != nil {
		if err := c.factory.nextOpenErr(); err != nil {
			return nil, err
		}
	}
	s := NewStream(c.Rate)
	c.mu.Lock()
	c.Streams = append(c.Streams, s)
	c.mu.Unlock()
	return s, nil
}

// Close records the call.
func (c *CaptureContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	return nil
}

// Closed reports whether Close was called at least once.
func (c *CaptureContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCalls > 0
}

// Stream is a mock [audio.MediaStream]. Tests push frames with Push.
type Stream struct {
	mu     sync.Mutex
	rate   int
	frames chan audio.Frame
	closed bool

	// StreamErr is returned by Err.
	StreamErr error
}

// NewStream returns an open Stream with a generous frame buffer.
func NewStream(rate int) *Stream {
	return &Stream{rate: rate, frames: make(chan audio.Frame, 64)}
}

// Push delivers samples as one frame. It reports false if the stream is closed.
func (s *Stream) Push(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- audio.Frame{Samples: samples, SampleRate: s.rate}
	return true
}

// Frames implements [audio.MediaStream].
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Err implements [audio.MediaStream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StreamErr
}

// Close implements [audio.MediaStream]. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// PlaybackFactory is a mock [audio.PlaybackFactory].
type PlaybackFactory struct {
	mu sync.Mutex

	// NewErr, if non-nil, is returned by NewPlaybackContext.
	NewErr error

	// InitialState is the state of created contexts. Defaults to
	// [audio.StateSuspended].
	InitialState audio.ContextState

	// Contexts records every context created.
	Contexts []*PlaybackContext
}

// NewPlaybackContext records and returns a new PlaybackContext.
func (f *PlaybackFactory) NewPlaybackContext(sampleRate int) (audio.PlaybackContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := NewPlaybackContext(sampleRate)
	c.state = f.InitialState
	f.Contexts = append(f.Contexts, c)
	return c, nil
}

// Last returns the most recently created context, or nil.
func (f *PlaybackFactory) Last() *PlaybackContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Contexts) == 0 {
		return nil
	}
	return f.Contexts[len(f.Contexts)-1]
}

// Scheduled records one Schedule call.
type Scheduled struct {
	At       time.Duration
	Duration time.Duration
	Voice    *Voice
}

// PlaybackContext is a mock [audio.PlaybackContext] whose clock is set by the
// test with SetTime.
type PlaybackContext struct {
	mu    sync.Mutex
	rate  int
	state audio.ContextState
	now   time.Duration

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// ScheduleCalls records every Schedule call in order.
	ScheduleCalls []Scheduled

	// ResumeCalls counts Resume invocations.
	ResumeCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// NewPlaybackContext returns a suspended context at rate.
func NewPlaybackContext(rate int) *PlaybackContext {
	return &PlaybackContext{rate: rate, state: audio.StateSuspended}
}

// SetTime sets the value reported by CurrentTime.
func (c *PlaybackContext) SetTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d
}

// SampleRate implements [audio.PlaybackContext].
func (c *PlaybackContext) SampleRate() int { return c.rate }

// State implements [audio.PlaybackContext].
func (c *PlaybackContext) State() audio.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume implements [audio.PlaybackContext].
func (c *PlaybackContext) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResumeCalls++
	if c.state == audio.StateClosed {
		return audio.ErrContextClosed
	}
	c.state = audio.StateRunning
	return nil
}

// CurrentTime implements [audio.PlaybackContext].
func (c *PlaybackContext) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule records the call and returns a Voice the test can finish.
func (c *PlaybackContext) Schedule(samples []float32, at time.Duration) (audio.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ScheduleErr != nil {
		return nil, c.ScheduleErr
	}
	if c.state == audio.StateClosed {
		return nil, audio.ErrContextClosed
	}
	v := &Voice{done: make(chan struct{})}
	c.ScheduleCalls = append(c.ScheduleCalls, Scheduled{
		At:       at,
		Duration: audio.SamplesDuration(len(samples), c.rate),
		Voice:    v,
	})
	return v, nil
}

// Calls returns a copy of ScheduleCalls.
func (c *PlaybackContext) Calls() []Scheduled {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Scheduled(nil), c.ScheduleCalls...)
}

// Close implements [audio.PlaybackContext].
func (c *PlaybackContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	c.state = audio.StateClosed
	return nil
}

// Voice is a mock [audio.Voice]. Finish simulates natural completion.
type Voice struct {
	mu      sync.Mutex
	done    chan struct{}
	stopped bool
	ended   bool
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
	v.endLocked()
}

// Finish marks the voice as having played to completion.
func (v *Voice) Finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.endLocked()
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *Voice) endLocked() {
	if !v.ended {
		v.ended = true
		close(v.done)
	}
}
