// Package audio defines the device abstractions and PCM helpers used by the
// voice pipeline.
//
// The two primary abstractions are:
//
//   - [CaptureContext] — a microphone-side audio context that opens
//     [MediaStream]s delivering fixed-size [Frame]s.
//   - [PlaybackContext] — a speaker-side audio context with a monotonic sample
//     clock ([PlaybackContext.CurrentTime]) on which buffers are scheduled at
//     absolute start times.
//
// Implementations live in backend sub-packages (audio/malgo, audio/oto) and
// test doubles in audio/mock. The interfaces are intentionally narrow to keep
// the session orchestrator decoupled from device details.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDeviceUnavailable is returned when no usable audio device exists or the
// OS denied access to it.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// ErrContextClosed is returned by operations on a closed audio context.
var ErrContextClosed = errors.New("audio: context closed")

// ── Capture ───────────────────────────────────────────────────────────────────

// Constraints are the processing features requested when opening a
// microphone. Backends that cannot honour an enabled feature return a
// [*ConstraintError] so the caller can retry with bare constraints.
type Constraints struct {
	NoiseSuppression bool
	EchoCancellation bool
	AutoGainControl  bool

	// Device optionally names the capture device. Empty selects the default.
	Device string
}

// Enabled returns the names of all requested processing features.
func (c Constraints) Enabled() []string {
	var names []string
	if c.NoiseSuppression {
		names = append(names, "noiseSuppression")
	}
	if c.EchoCancellation {
		names = append(names, "echoCancellation")
	}
	if c.AutoGainControl {
		names = append(names, "autoGainControl")
	}
	return names
}

// Bare returns a copy of c with every processing feature disabled.
func (c Constraints) Bare() Constraints {
	return Constraints{Device: c.Device}
}

// ConstraintError reports processing constraints a backend could not satisfy.
type ConstraintError struct {
	// Unsupported lists the rejected constraint names.
	Unsupported []string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("audio: unsupported constraints: %s", strings.Join(e.Unsupported, ", "))
}

// MediaStream is an open microphone stream.
type MediaStream interface {
	// Frames returns the channel of captured frames. The channel is closed
	// when the stream is closed or the device fails; check Err afterwards.
	Frames() <-chan Frame

	// Err returns the error that terminated the stream, if any.
	Err() error

	// Close stops the device and closes Frames. Idempotent.
	Close() error
}

// CaptureContext is a microphone-side audio context at a fixed sample rate.
type CaptureContext interface {
	// SampleRate returns the rate of frames produced by streams of this context.
	SampleRate() int

	// OpenMicrophone acquires the microphone with the given constraints.
	OpenMicrophone(ctx context.Context, c Constraints) (MediaStream, error)

	// Close releases the context. Open streams are closed. Idempotent.
	Close() error
}

// CaptureFactory creates capture contexts.
type CaptureFactory interface {
	NewCaptureContext(sampleRate int) (CaptureContext, error)
}

// ── Playback ──────────────────────────────────────────────────────────────────

// ContextState is the run state of a [PlaybackContext].
type ContextState int

const (
	// StateSuspended means the clock is halted until Resume is called.
	StateSuspended ContextState = iota
	// StateRunning means the clock advances and scheduled voices play.
	StateRunning
	// StateClosed means the context has been released.
	StateClosed
)

// String returns the human-readable name of the state.
func (s ContextState) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Voice is a buffer scheduled for playback on a [PlaybackContext].
type Voice interface {
	// Done is closed once the voice finished playing or was stopped.
	Done() <-chan struct{}

	// Stop halts playback immediately. Idempotent.
	Stop()
}

// PlaybackContext is a speaker-side audio context with a sample clock.
type PlaybackContext interface {
	// SampleRate returns the context's output rate.
	SampleRate() int

	// State reports whether the clock is running.
	State() ContextState

	// Resume starts the clock if it is suspended.
	Resume(ctx context.Context) error

	// CurrentTime returns the context's clock: the amount of audio rendered
	// since the context was created.
	CurrentTime() time.Duration

	// Schedule plays samples (at the context rate) starting at the absolute
	// context time at. A start time in the past plays immediately.
	Schedule(samples []float32, at time.Duration) (Voice, error)

	// Close stops every voice and releases the device. Idempotent.
	Close() error
}

// PlaybackFactory creates playback contexts.
type PlaybackFactory interface {
	NewPlaybackContext(sampleRate int) (PlaybackContext, error)
}
