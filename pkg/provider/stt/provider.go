// Package stt defines the Provider interface for streaming speech recognition
// backends used by the passive wake-phrase listener.
//
// A provider wraps a transcription engine (Deepgram's streaming API or a local
// whisper.cpp model) behind a uniform streaming interface. Once opened, a
// Stream accepts raw 16-bit PCM audio and emits final transcripts only: the
// wake listener tests whole utterances and has no use for interim guesses.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by SendAudio after the stream ended.
var ErrStreamClosed = errors.New("stt: stream closed")

// Transcript is one final recognition result.
type Transcript struct {
	// Text is the recognised utterance.
	Text string

	// Confidence is the overall confidence score (0.0-1.0). Zero when the
	// engine does not report one.
	Confidence float64
}

// Keyword is a vocabulary hint that raises the probability of recognising an
// uncommon word, such as the assistant's name.
type Keyword struct {
	// Text is the word or phrase to boost.
	Text string

	// Boost is the provider-specific intensity. Ignored by providers that
	// only accept plain key terms.
	Boost float64
}

// StreamConfig describes the audio format and recognition hints for a stream.
type StreamConfig struct {
	// SampleRate of the PCM delivered to SendAudio, in Hz. Zero selects the
	// provider default (16 kHz).
	SampleRate int

	// Language is the BCP-47 tag used for recognition (e.g. "en-US").
	Language string

	// Keywords are recognition hints. Typically the wake phrases.
	Keywords []Keyword
}

// Stream is an open recognition stream.
//
// Results is closed when the stream ends, either because Close was called or
// because the engine stopped on its own. After Results is closed, Err reports
// why the engine stopped; it is nil after a clean Close.
type Stream interface {
	// SendAudio delivers one chunk of mono 16-bit little-endian PCM. It returns
	// ErrStreamClosed once the stream has ended.
	SendAudio(chunk []byte) error

	// Results emits final transcripts.
	Results() <-chan Transcript

	// Err returns the terminal engine error, if any. Only meaningful after
	// Results was closed.
	Err() error

	// Close stops the stream and releases its resources. Safe to call more
	// than once.
	Close() error
}

// Provider opens recognition streams.
type Provider interface {
	// StartStream opens a new stream. The caller owns it and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}
