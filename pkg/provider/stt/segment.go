package stt

import (
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
)

const (
	// DefaultSilenceThreshold is the RMS level at or below which a chunk is
	// counted as silence.
	DefaultSilenceThreshold = 0.01

	// DefaultTrailingSilence ends an utterance once this much silence
	// followed speech.
	DefaultTrailingSilence = 500 * time.Millisecond

	// DefaultMaxUtterance forces an utterance out once it grows this long.
	DefaultMaxUtterance = 10 * time.Second
)

// Segmenter splits a continuous sample stream into utterances using an
// energy threshold. It is meant for engines that transcribe whole buffers
// rather than streams, such as whisper.cpp. A Segmenter is not safe for
// concurrent use.
type Segmenter struct {
	// Threshold is the RMS silence threshold.
	Threshold float64
	// TrailingSilence is the silence that closes an utterance.
	TrailingSilence time.Duration
	// MaxUtterance bounds the buffered utterance length.
	MaxUtterance time.Duration

	rate      int
	buf       []float32
	hadSpeech bool
	silence   time.Duration
}

// NewSegmenter returns a Segmenter for samples at rate Hz with default
// thresholds.
func NewSegmenter(rate int) *Segmenter {
	return &Segmenter{
		Threshold:       DefaultSilenceThreshold,
		TrailingSilence: DefaultTrailingSilence,
		MaxUtterance:    DefaultMaxUtterance,
		rate:            rate,
	}
}

// Push adds one chunk and returns a completed utterance when the chunk closed
// one. Silence before the first speech chunk is discarded.
func (s *Segmenter) Push(samples []float32) ([]float32, bool) {
	d := audio.SamplesDuration(len(samples), s.rate)
	if audio.RMS(samples) <= s.Threshold {
		if !s.hadSpeech {
			return nil, false
		}
		s.buf = append(s.buf, samples...)
		s.silence += d
		if s.silence >= s.TrailingSilence {
			return s.Flush()
		}
		return nil, false
	}

	s.hadSpeech = true
	s.silence = 0
	s.buf = append(s.buf, samples...)
	if s.MaxUtterance > 0 && audio.SamplesDuration(len(s.buf), s.rate) >= s.MaxUtterance {
		return s.Flush()
	}
	return nil, false
}

// Flush returns whatever utterance is buffered and resets the segmenter.
// It reports false when nothing but silence was buffered.
func (s *Segmenter) Flush() ([]float32, bool) {
	out, ok := s.buf, s.hadSpeech && len(s.buf) > 0
	s.buf = nil
	s.hadSpeech = false
	s.silence = 0
	if !ok {
		return nil, false
	}
	return out, true
}
