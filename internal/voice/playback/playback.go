// Package playback schedules inbound speech segments on a playback context so
// that consecutive segments play back-to-back without gaps or overlap, and
// flushes everything queued when the model is interrupted.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/audio"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithSourceRate sets the sample rate of incoming PCM. Defaults to
// [audio.PlaybackSampleRate].
func WithSourceRate(rate int) Option {
	return func(s *Scheduler) { s.sourceRate = rate }
}

// WithMetrics records scheduling and interruptions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns the playback cursor and the set of active segments.
type Scheduler struct {
	ctx        audio.PlaybackContext
	sourceRate int
	metrics    *observe.Metrics

	mu        sync.Mutex
	nextStart time.Duration
	active    map[uint64]audio.Voice
	seq       uint64
	closed    bool
	wg        sync.WaitGroup
}

// New creates a Scheduler on pc.
func New(pc audio.PlaybackContext, opts ...Option) *Scheduler {
	s := &Scheduler{
		ctx:        pc,
		sourceRate: audio.PlaybackSampleRate,
		active:     make(map[uint64]audio.Voice),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes one 16-bit PCM chunk and schedules it immediately after the
// previously scheduled segment, or now if playback has drained. It returns the
// scheduled start time on the context clock.
func (s *Scheduler) Enqueue(pcm []byte) (time.Duration, error) {
	samples := audio.Resample(audio.DecodePCM16(pcm), s.sourceRate, s.ctx.SampleRate())
	if len(samples) == 0 {
		return 0, nil
	}
	dur := audio.SamplesDuration(len(samples), s.ctx.SampleRate())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	start := max(s.nextStart, s.ctx.CurrentTime())
	v, err := s.ctx.Schedule(samples, start)
	if err != nil {
		return 0, fmt.Errorf("playback: schedule: %w", err)
	}
	s.nextStart = start + dur

	s.seq++
	id := s.seq
	s.active[id] = v
	s.wg.Add(1)
	go s.watch(id, v)

	if s.metrics != nil {
		s.metrics.SegmentsScheduled.Add(context.Background(), 1)
	}
	return start, nil
}

// watch removes a voice from the active set once it ends.
func (s *Scheduler) watch(id uint64, v audio.Voice) {
	defer s.wg.Done()
	<-v.Done()
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Interrupt stops every active segment, clears the set and resets the cursor
// so the next segment starts against the live clock.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	if s.metrics != nil {
		s.metrics.Interruptions.Add(context.Background(), 1)
	}
}

func (s *Scheduler) interruptLocked() {
	for id, v := range s.active {
		v.Stop()
		delete(s.active, id)
	}
	s.nextStart = 0
}

// Active returns the number of segments that are scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the playback cursor.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Close stops all playback and waits for the watchers. It does not close the
// playback context, which stays owned by the caller. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.interruptLocked()
	s.mu.Unlock()
	s.wg.Wait()
}
