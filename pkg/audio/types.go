package audio

import "time"

const (
	// CaptureSampleRate is the microphone sample rate expected by the remote
	// session (16 kHz mono).
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the sample rate of synthesised speech returned by
	// the remote session (24 kHz mono).
	PlaybackSampleRate = 24000

	// FrameSize is the number of samples per captured frame (~256 ms at 16 kHz).
	FrameSize = 4096
)

// Frame is a fixed-size block of mono float32 samples captured from the
// microphone. Frames are immutable once emitted; consumers must not modify
// Samples.
type Frame struct {
	// Samples holds normalised samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Timestamp marks the position of the first sample relative to the start
	// of the stream.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration converts a sample count at rate into a duration.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationSamples converts d into a sample count at rate, rounding to the
// nearest sample. It inverts [SamplesDuration] exactly.
func DurationSamples(d time.Duration, rate int) int64 {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
