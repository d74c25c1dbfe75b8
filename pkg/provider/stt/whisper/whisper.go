// Package whisper provides a local STT provider backed by the whisper.cpp Go
// bindings (CGO). The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// whisper.cpp transcribes whole buffers, so each stream segments incoming
// audio into utterances with an [stt.Segmenter] and runs one inference per
// utterance.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// modelSampleRate is the only rate whisper.cpp accepts.
	modelSampleRate = 16000
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription (e.g. "en", "de").
// Region suffixes such as "en-US" are stripped. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = baseLanguage(lang) }
}

// WithTrailingSilence sets how much silence after speech ends an utterance.
func WithTrailingSilence(d time.Duration) Option {
	return func(p *Provider) { p.trailingSilence = d }
}

// WithMaxUtterance sets the longest utterance buffered before a forced
// inference.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// Provider implements stt.Provider with a whisper.cpp model that is loaded
// once and shared across streams.
type Provider struct {
	model           whisperlib.Model
	language        string
	trailingSilence time.Duration
	maxUtterance    time.Duration

	// inferMu serialises inference on the shared model.
	inferMu sync.Mutex
}

// New loads the model at modelPath. The caller must call Close when the
// provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{
		model:           model,
		language:        defaultLanguage,
		trailingSilence: stt.DefaultTrailingSilence,
		maxUtterance:    stt.DefaultMaxUtterance,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a transcription stream. cfg.Language overrides the
// provider language; keywords are ignored since whisper.cpp has no boosting.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	lang := p.language
	if cfg.Language != "" {
		lang = baseLanguage(cfg.Language)
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}

	seg := stt.NewSegmenter(rate)
	seg.TrailingSilence = p.trailingSilence
	seg.MaxUtterance = p.maxUtterance

	s := &stream{
		p:        p,
		language: lang,
		rate:     rate,
		seg:      seg,
		audio:    make(chan []byte, 64),
		results:  make(chan stt.Transcript, 16),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop()
	return s, nil
}

// ── stream ───────────────────────────────────────────────────────────────────

type stream struct {
	p        *Provider
	language string
	rate     int
	seg      *stt.Segmenter

	audio   chan []byte
	results chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrStreamClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrStreamClosed
	}
}

func (s *stream) Results() <-chan stt.Transcript { return s.results }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop owns the segmenter. An inference failure ends the stream with
// that error so the caller can restart it.
func (s *stream) processLoop() {
	defer s.wg.Done()
	defer close(s.results)

	for {
		select {
		case <-s.done:
			return
		case chunk := <-s.audio:
			utt, ok := s.seg.Push(audio.DecodePCM16(chunk))
			if !ok {
				continue
			}
			text, err := s.p.infer(audio.Resample(utt, s.rate, modelSampleRate), s.language)
			if err != nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				return
			}
			if text == "" {
				continue
			}
			select {
			case s.results <- stt.Transcript{Text: text}:
			case <-s.done:
				return
			}
		}
	}
}

// infer runs whisper.cpp on one utterance and returns the joined segment text.
func (p *Provider) infer(samples []float32, language string) (string, error) {
	p.inferMu.Lock()
	defer p.inferMu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// baseLanguage reduces a BCP-47 tag to the primary subtag whisper expects.
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}
