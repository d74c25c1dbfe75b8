package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedSource returns CPU samples in order.
type scriptedSource struct {
	mu     sync.Mutex
	cpu    []CPUSample
	mem    MemorySample
	memErr error
	upErr  error
}

func (s *scriptedSource) CPU() (CPUSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.cpu[0]
	s.cpu = s.cpu[1:]
	return out, nil
}

func (s *scriptedSource) Memory() (MemorySample, error) { return s.mem, s.memErr }

func (s *scriptedSource) Uptime() (time.Duration, error) {
	return 3 * time.Hour, s.upErr
}

func TestCollect(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{
		cpu: []CPUSample{{Idle: 100, Total: 200}, {Idle: 175, Total: 300}},
		mem: MemorySample{Used: 3 << 30, Total: 8 << 30},
	}
	c := New(WithSource(src), WithSampleWindow(time.Millisecond))

	snap, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.CPUPercent != 25 {
		t.Errorf("CPUPercent = %v, want 25", snap.CPUPercent)
	}
	if snap.MemoryPercent != 37.5 {
		t.Errorf("MemoryPercent = %v, want 37.5", snap.MemoryPercent)
	}
	if snap.MemoryUsedMB != 3072 {
		t.Errorf("MemoryUsedMB = %d, want 3072", snap.MemoryUsedMB)
	}
	if snap.Uptime != 3*time.Hour || snap.Goroutines == 0 || snap.Platform == "" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCollect_Errors(t *testing.T) {
	t.Parallel()

	t.Run("memory error", func(t *testing.T) {
		t.Parallel()
		src := &scriptedSource{
			cpu:    []CPUSample{{}, {}},
			memErr: errors.New("no /proc"),
		}
		if _, err := New(WithSource(src), WithSampleWindow(time.Millisecond)).Collect(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("uptime error tolerated", func(t *testing.T) {
		t.Parallel()
		src := &scriptedSource{
			cpu:   []CPUSample{{}, {}},
			mem:   MemorySample{Used: 1, Total: 2},
			upErr: errors.New("unsupported"),
		}
		snap, err := New(WithSource(src), WithSampleWindow(time.Millisecond)).Collect(context.Background())
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		if snap.Uptime != 0 || snap.CPUPercent != 0 {
			t.Errorf("snapshot = %+v", snap)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := &scriptedSource{cpu: []CPUSample{{}, {}}}
		if _, err := New(WithSource(src), WithSampleWindow(time.Hour)).Collect(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}
