package playback_test

import (
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/voice/playback"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/mock"
)

// pcm returns silent 16-bit PCM lasting d at 24 kHz.
func pcm(d time.Duration) []byte {
	return make([]byte, audio.DurationSamples(d, audio.PlaybackSampleRate)*2)
}

func waitActive(t *testing.T, s *playback.Scheduler, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Active() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Active = %d, want %d", s.Active(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnqueue_BackToBackOnIdleClock(t *testing.T) {
	t.Parallel()

	pc := mock.NewPlaybackContext(audio.PlaybackSampleRate)
	s := playback.New(pc)
	defer s.Close()

	var starts []time.Duration
	for _, d := range []time.Duration{500 * time.Millisecond, 300 * time.Millisecond, 700 * time.Millisecond} {
		start, err := s.Enqueue(pcm(d))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		starts = append(starts, start)
	}

	want := []time.Duration{0, 500 * time.Millisecond, 800 * time.Millisecond}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("segment %d start = %v, want %v", i, starts[i], want[i])
		}
	}
	if got := s.NextStart(); got != 1500*time.Millisecond {
		t.Errorf("NextStart = %v, want 1.5s", got)
	}
	if got := s.Active(); got != 3 {
		t.Errorf("Active = %d, want 3", got)
	}
}

func TestEnqueue_AfterDrainStartsAtCurrentTime(t *testing.T) {
	t.Parallel()

	pc := mock.NewPlaybackContext(audio.PlaybackSampleRate)
	s := playback.New(pc)
	defer s.Close()

	_, _ = s.Enqueue(pcm(100 * time.Millisecond))
	pc.SetTime(2 * time.Second)
	start, _ := s.Enqueue(pcm(100 * time.Millisecond))
	if start != 2*time.Second {
		t.Errorf("start = %v, want 2s", start)
	}
}

func TestInterrupt_FlushesAndResetsCursor(t *testing.T) {
	t.Parallel()

	pc := mock.NewPlaybackContext(audio.PlaybackSampleRate)
	s := playback.New(pc)
	defer s.Close()

	_, _ = s.Enqueue(pcm(500 * time.Millisecond))
	_, _ = s.Enqueue(pcm(300 * time.Millisecond))

	s.Interrupt()

	for i, call := range pc.Calls() {
		if !call.Voice.Stopped() {
			t.Errorf("segment %d was not stopped", i)
		}
	}
	waitActive(t, s, 0)
	if got := s.NextStart(); got != 0 {
		t.Errorf("NextStart = %v, want 0", got)
	}

	pc.SetTime(200 * time.Millisecond)
	start, err := s.Enqueue(pcm(700 * time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if start != 200*time.Millisecond {
		t.Errorf("third segment start = %v, want live clock 200ms", start)
	}
}

func TestNaturalCompletionLeavesActiveSet(t *testing.T) {
	t.Parallel()

	pc := mock.NewPlaybackContext(audio.PlaybackSampleRate)
	s := playback.New(pc)
	defer s.Close()

	_, _ = s.Enqueue(pcm(100 * time.Millisecond))
	_, _ = s.Enqueue(pcm(100 * time.Millisecond))
	pc.Calls()[0].Voice.Finish()

	waitActive(t, s, 1)
}

func TestEnqueue_ResamplesToContextRate(t *testing.T) {
	t.Parallel()

	pc := mock.NewPlaybackContext(48000)
	s := playback.New(pc)
	defer s.Close()

	_, _ = s.Enqueue(pcm(500 * time.Millisecond))
	_, _ = s.Enqueue(pcm(500 * time.Millisecond))
	calls := pc.Calls()
	if calls[0].Duration != 500*time.Millisecond {
		t.Errorf("duration = %v, want 500ms after resampling", calls[0].Duration)
	}
	if calls[1].At != 500*time.Millisecond {
		t.Errorf("second start = %v, want 500ms", calls[1].At)
	}
}

func TestEnqueue_EmptyAndClosed(t *testing.T) {
	t.Parallel()

	pc := mock.NewPlaybackContext(audio.PlaybackSampleRate)
	s := playback.New(pc)

	if _, err := s.Enqueue(nil); err != nil {
		t.Fatalf("empty chunk: %v", err)
	}
	if len(pc.Calls()) != 0 {
		t.Fatal("empty chunk was scheduled")
	}

	_, _ = s.Enqueue(pcm(100 * time.Millisecond))
	s.Close()
	s.Close()
	if !pc.Calls()[0].Voice.Stopped() {
		t.Error("Close did not stop active segments")
	}
	if _, err := s.Enqueue(pcm(100 * time.Millisecond)); err != playback.ErrClosed {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
}
