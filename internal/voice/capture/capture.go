// Package capture turns microphone frames into outbound audio chunks,
// visualisation samples and VAD input while a session is connected.
//
// The frame handler never blocks on the network: encoded chunks go through a
// bounded queue drained by a dedicated sender goroutine. Queue overflow and
// send failures are counted, not logged, since they happen at frame rate
// whenever the link degrades.
package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/audio"
)

const (
	// DefaultQueueSize is the number of encoded chunks buffered for sending.
	DefaultQueueSize = 16

	// AmplitudeSamples is the length of each published amplitude vector.
	AmplitudeSamples = 32
)

// Sender transmits one encoded chunk. s2s.Session satisfies it.
type Sender interface {
	SendRealtimeInput(ctx context.Context, chunk []byte) error
}

// FrameProcessor consumes frames after they were sent. *vad.Detector
// satisfies it.
type FrameProcessor interface {
	Process(f audio.Frame)
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithVAD feeds every frame to vad after it was queued for sending.
func WithVAD(vad FrameProcessor) Option {
	return func(p *Pipeline) { p.vad = vad }
}

// WithBus publishes amplitude samples to bus.
func WithBus(bus *events.Bus) Option {
	return func(p *Pipeline) { p.bus = bus }
}

// WithMetrics records sent and dropped chunks on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithQueueSize overrides the outbound queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// Pipeline is a running capture loop. Create it with Start.
type Pipeline struct {
	stream    audio.MediaStream
	sender    Sender
	vad       FrameProcessor
	bus       *events.Bus
	metrics   *observe.Metrics
	queueSize int

	queue  chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Start launches the frame and sender goroutines. The stream stays owned by
// the caller; Stop does not close it.
func Start(stream audio.MediaStream, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		stream:    stream,
		sender:    sender,
		queueSize: DefaultQueueSize,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.queue = make(chan []byte, p.queueSize)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(2)
	go p.frameLoop(ctx)
	go p.sendLoop(ctx)
	return p
}

func (p *Pipeline) frameLoop(ctx context.Context) {
	defer p.wg.Done()
	frames := p.stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				if err := p.stream.Err(); err != nil {
					slog.Warn("capture: microphone stream ended", "err", err)
				}
				return
			}
			p.handle(ctx, f)
		}
	}
}

// handle processes one frame: queue for sending, publish amplitude, feed VAD.
func (p *Pipeline) handle(ctx context.Context, f audio.Frame) {
	chunk := audio.EncodePCM16(f.Samples)
	select {
	case p.queue <- chunk:
	default:
		p.metrics.RecordFrameDropped(ctx, "queue_full")
	}

	p.bus.Amplitude(audio.Amplitude(f.Samples, AmplitudeSamples))

	if p.vad != nil {
		p.vad.Process(f)
	}
}

func (p *Pipeline) sendLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-p.queue:
			if err := p.sender.SendRealtimeInput(ctx, chunk); err != nil {
				p.metrics.RecordFrameDropped(ctx, "send_error")
				continue
			}
			p.metrics.FramesSent.Add(ctx, 1)
		}
	}
}

// Stop halts both goroutines and waits for them. Idempotent.
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}
