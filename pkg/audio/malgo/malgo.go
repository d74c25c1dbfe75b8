// Package malgo implements [audio.CaptureFactory] on top of miniaudio via
// github.com/gen2brain/malgo.
//
// miniaudio performs no voice processing, so every processing constraint is
// rejected with an [*audio.ConstraintError]; callers are expected to retry
// with [audio.Constraints.Bare].
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/gen2brain/malgo"
)

var (
	_ audio.CaptureFactory = (*Backend)(nil)
	_ audio.CaptureContext = (*captureContext)(nil)
	_ audio.MediaStream    = (*stream)(nil)
)

// frameBuffer is the number of frames buffered between the device callback
// and the consumer before frames are dropped.
const frameBuffer = 8

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithFrameSize overrides the number of samples per emitted frame.
func WithFrameSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.frameSize = n
		}
	}
}

// WithPeriod sets the device period in milliseconds.
func WithPeriod(ms uint32) Option {
	return func(b *Backend) { b.periodMs = ms }
}

// ── Backend ────────────────────────────────────────────────────────────────────

// Backend owns the miniaudio context shared by all capture contexts.
type Backend struct {
	ctx       *malgo.AllocatedContext
	frameSize int
	periodMs  uint32
}

// New initialises miniaudio with the platform's default backends.
func New(opts ...Option) (*Backend, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	b := &Backend{ctx: ctx, frameSize: audio.FrameSize, periodMs: 20}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// NewCaptureContext returns a capture context producing frames at sampleRate.
func (b *Backend) NewCaptureContext(sampleRate int) (audio.CaptureContext, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("malgo: invalid sample rate %d", sampleRate)
	}
	return &captureContext{backend: b, rate: sampleRate}, nil
}

// Close releases the miniaudio context.
func (b *Backend) Close() error {
	if err := b.ctx.Uninit(); err != nil {
		return fmt.Errorf("malgo: uninit: %w", err)
	}
	b.ctx.Free()
	return nil
}

// findDevice returns the ID pointer of the capture device whose name contains
// name (case-insensitive).
func (b *Backend) findDevice(name string) (malgo.DeviceInfo, error) {
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("malgo: enumerate devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("malgo: capture device %q: %w", name, audio.ErrDeviceUnavailable)
}

// ── captureContext ─────────────────────────────────────────────────────────────

type captureContext struct {
	backend *Backend
	rate    int

	mu      sync.Mutex
	streams []*stream
	closed  bool
}

func (c *captureContext) SampleRate() int { return c.rate }

func (c *captureContext) OpenMicrophone(ctx context.Context, cons audio.Constraints) (audio.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if names := cons.Enabled(); len(names) > 0 {
		return nil, &audio.ConstraintError{Unsupported: names}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, audio.ErrContextClosed
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(c.rate)
	cfg.PeriodSizeInMilliseconds = c.backend.periodMs
	if cons.Device != "" {
		info, err := c.backend.findDevice(cons.Device)
		if err != nil {
			return nil, err
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	s := &stream{
		rate:      c.rate,
		frameSize: c.backend.frameSize,
		frames:    make(chan audio.Frame, frameBuffer),
		pending:   make([]float32, 0, c.backend.frameSize),
	}
	dev, err := malgo.InitDevice(c.backend.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { s.onData(input) },
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	s.device = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *captureContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := c.streams
	c.streams = nil
	c.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ── stream ─────────────────────────────────────────────────────────────────────

type stream struct {
	device    *malgo.Device
	rate      int
	frameSize int
	frames    chan audio.Frame

	mu      sync.Mutex
	pending []float32
	emitted int64
	dropped int64
	closed  bool
	errVal  error
}

// onData runs on the miniaudio callback thread; it must never block.
func (s *stream) onData(input []byte) {
	samples := audio.DecodePCM16(input)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for len(samples) > 0 {
		n := min(s.frameSize-len(s.pending), len(samples))
		s.pending = append(s.pending, samples[:n]...)
		samples = samples[n:]
		if len(s.pending) < s.frameSize {
			break
		}
		f := audio.Frame{
			Samples:    s.pending,
			SampleRate: s.rate,
			Timestamp:  audio.SamplesDuration(int(s.emitted), s.rate),
		}
		s.emitted += int64(s.frameSize)
		s.pending = make([]float32, 0, s.frameSize)
		select {
		case s.frames <- f:
		default:
			s.dropped++
		}
	}
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	s.mu.Unlock()

	err := s.device.Stop()
	s.device.Uninit()

	s.mu.Lock()
	close(s.frames)
	s.mu.Unlock()

	if dropped > 0 {
		slog.Debug("malgo: capture stream closed", "dropped_frames", dropped)
	}
	if err != nil {
		return fmt.Errorf("malgo: stop capture device: %w", err)
	}
	return nil
}
