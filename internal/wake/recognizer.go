package wake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

// Recognizer is the passive speech-recognition engine: continuous, final
// results only, fixed locale.
type Recognizer interface {
	// Recognize starts a recognition session. It holds the microphone until
	// the returned Recognition is closed or ends on its own.
	Recognize(ctx context.Context) (Recognition, error)
}

// Recognition is a running recognition session.
type Recognition interface {
	// Results emits recognised utterances and is closed when the session
	// ends.
	Results() <-chan string

	// Err reports why the engine stopped. Nil after Close.
	Err() error

	// Close stops the session and returns once the microphone is released.
	// Safe to call more than once.
	Close() error
}

// STTRecognizer implements [Recognizer] by streaming its own microphone into
// an [stt.Provider].
type STTRecognizer struct {
	// Capture opens the microphone context. Required.
	Capture audio.CaptureFactory

	// Provider transcribes the microphone stream. Required.
	Provider stt.Provider

	// Language is the recognition locale, e.g. "en-US".
	Language string

	// Keywords returns recognition hints at session start. Optional.
	Keywords func() []stt.Keyword

	// Constraints for the microphone. Zero value requests bare audio.
	Constraints audio.Constraints
}

var _ Recognizer = (*STTRecognizer)(nil)

// Recognize opens the microphone and a recognition stream and pumps audio
// between them until either side ends.
func (r *STTRecognizer) Recognize(ctx context.Context) (Recognition, error) {
	cc, err := r.Capture.NewCaptureContext(audio.CaptureSampleRate)
	if err != nil {
		return nil, fmt.Errorf("wake: open capture context: %w", err)
	}
	mic, err := cc.OpenMicrophone(ctx, r.Constraints)
	var ce *audio.ConstraintError
	if errors.As(err, &ce) {
		mic, err = cc.OpenMicrophone(ctx, r.Constraints.Bare())
	}
	if err != nil {
		_ = cc.Close()
		return nil, fmt.Errorf("wake: open microphone: %w", err)
	}

	cfg := stt.StreamConfig{SampleRate: cc.SampleRate(), Language: r.Language}
	if r.Keywords != nil {
		cfg.Keywords = r.Keywords()
	}
	st, err := r.Provider.StartStream(ctx, cfg)
	if err != nil {
		_ = mic.Close()
		_ = cc.Close()
		return nil, fmt.Errorf("wake: start recognition stream: %w", err)
	}

	rec := &sttRecognition{
		cc:      cc,
		mic:     mic,
		stream:  st,
		results: make(chan string, 4),
		done:    make(chan struct{}),
	}
	rec.wg.Add(2)
	go rec.pumpAudio()
	go rec.pumpResults()
	return rec, nil
}

type sttRecognition struct {
	cc      audio.CaptureContext
	mic     audio.MediaStream
	stream  stt.Stream
	results chan string

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (r *sttRecognition) Results() <-chan string { return r.results }

func (r *sttRecognition) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *sttRecognition) setErr(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

// pumpAudio forwards microphone frames to the stream. A microphone failure
// or a rejected send ends the session.
func (r *sttRecognition) pumpAudio() {
	defer r.wg.Done()
	frames := r.mic.Frames()
	for {
		select {
		case <-r.done:
			return
		case f, ok := <-frames:
			if !ok {
				select {
				case <-r.done:
					return
				default:
				}
				if err := r.mic.Err(); err != nil {
					r.setErr(fmt.Errorf("wake: microphone: %w", err))
				}
				_ = r.stream.Close()
				return
			}
			if err := r.stream.SendAudio(audio.EncodePCM16(f.Samples)); err != nil {
				return
			}
		}
	}
}

// pumpResults forwards transcripts until the stream ends, then releases the
// microphone so the session is fully down once Results is closed.
func (r *sttRecognition) pumpResults() {
	defer r.wg.Done()
	defer close(r.results)
	for t := range r.stream.Results() {
		select {
		case r.results <- t.Text:
		case <-r.done:
		}
	}
	if err := r.stream.Err(); err != nil {
		r.setErr(err)
	}
	r.release()
}

// release signals the audio pump and closes the device side. Idempotent.
func (r *sttRecognition) release() {
	r.closeOnce.Do(func() {
		close(r.done)
		_ = r.mic.Close()
		_ = r.cc.Close()
	})
}

func (r *sttRecognition) Close() error {
	_ = r.stream.Close()
	r.release()
	r.wg.Wait()
	return nil
}
