// Package oto implements [audio.PlaybackFactory] on top of
// github.com/ebitengine/oto/v3.
//
// oto allows a single device context per process, so the [Backend] owns it and
// every [audio.PlaybackContext] handed out is a player fed by its own sample
// mixer. The mixer's rendered-sample counter is the context clock: voices are
// placed on it at absolute sample offsets, which is what makes back-to-back
// scheduling gapless.
package oto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

var (
	_ audio.PlaybackFactory = (*Backend)(nil)
	_ audio.PlaybackContext = (*playbackContext)(nil)
	_ audio.Voice           = (*voice)(nil)
)

// Backend owns the process-wide oto context.
type Backend struct {
	ctx  *oto.Context
	rate int
}

// New opens the output device at sampleRate mono signed 16-bit with the given
// device buffer size.
func New(sampleRate int, buffer time.Duration) (*Backend, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: new context: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	<-ready
	return &Backend{ctx: ctx, rate: sampleRate}, nil
}

// NewPlaybackContext returns a fresh, suspended playback context. The device
// rate is fixed by the backend; callers resample when sampleRate differs from
// [audio.PlaybackContext.SampleRate].
func (b *Backend) NewPlaybackContext(sampleRate int) (audio.PlaybackContext, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, fmt.Errorf("oto: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	pc := &playbackContext{rate: b.rate, voices: make(map[*voice]struct{})}
	pc.player = b.ctx.NewPlayer(pc)
	return pc, nil
}

// ── playbackContext ────────────────────────────────────────────────────────────

type playbackContext struct {
	rate   int
	player *oto.Player

	mu       sync.Mutex
	state    audio.ContextState
	rendered int64
	voices   map[*voice]struct{}
}

func (p *playbackContext) SampleRate() int { return p.rate }

func (p *playbackContext) State() audio.ContextState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *playbackContext) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case audio.StateClosed:
		return audio.ErrContextClosed
	case audio.StateRunning:
		return nil
	}
	p.state = audio.StateRunning
	p.player.Play()
	return nil
}

func (p *playbackContext) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return audio.SamplesDuration(int(p.rendered), p.rate)
}

func (p *playbackContext) Schedule(samples []float32, at time.Duration) (audio.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == audio.StateClosed {
		return nil, audio.ErrContextClosed
	}
	v := &voice{
		ctx:     p,
		samples: samples,
		start:   max(audio.DurationSamples(at, p.rate), p.rendered),
		done:    make(chan struct{}),
	}
	if len(samples) == 0 {
		v.finishLocked()
		return v, nil
	}
	p.voices[v] = struct{}{}
	return v, nil
}

func (p *playbackContext) Close() error {
	p.mu.Lock()
	if p.state == audio.StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = audio.StateClosed
	for v := range p.voices {
		v.finishLocked()
	}
	p.mu.Unlock()

	if err := p.player.Close(); err != nil {
		return fmt.Errorf("oto: close player: %w", err)
	}
	return nil
}

// Read renders the next block of the mix. It is called by oto's audio thread
// and always fills p completely; unscheduled regions are silence.
func (p *playbackContext) Read(buf []byte) (int, error) {
	n := len(buf) / 2
	mix := make([]float32, n)

	p.mu.Lock()
	if p.state == audio.StateRunning {
		from := p.rendered
		for v := range p.voices {
			v.mixInto(mix, from)
		}
		p.rendered += int64(n)
	}
	p.mu.Unlock()

	copy(buf, audio.EncodePCM16(mix))
	for i := n * 2; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), nil
}

// ── voice ──────────────────────────────────────────────────────────────────────

type voice struct {
	ctx      *playbackContext
	samples  []float32
	start    int64
	done     chan struct{}
	finished bool
}

// mixInto adds the part of v overlapping [from, from+len(mix)) into mix.
// Caller holds ctx.mu.
func (v *voice) mixInto(mix []float32, from int64) {
	end := v.start + int64(len(v.samples))
	to := from + int64(len(mix))
	if v.start >= to {
		return
	}
	lo := max(v.start, from)
	for i := lo; i < min(end, to); i++ {
		mix[i-from] += v.samples[i-v.start]
	}
	if end <= to {
		v.finishLocked()
	}
}

func (v *voice) finishLocked() {
	if v.finished {
		return
	}
	v.finished = true
	delete(v.ctx.voices, v)
	close(v.done)
}

func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) Stop() {
	v.ctx.mu.Lock()
	defer v.ctx.mu.Unlock()
	v.finishLocked()
}
