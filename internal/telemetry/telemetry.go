// Package telemetry samples host statistics for the system-scan tool.
package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
	"github.com/mackerelio/go-osstat/uptime"

	"github.com/MrWong99/jarvis/internal/clock"
)

// DefaultSampleWindow is the interval between the two CPU samples.
const DefaultSampleWindow = 200 * time.Millisecond

// Snapshot is one telemetry reading.
type Snapshot struct {
	CPUPercent    float64       `json:"cpuPercent"`
	MemoryPercent float64       `json:"memoryPercent"`
	MemoryUsedMB  uint64        `json:"memoryUsedMb"`
	Goroutines    int           `json:"goroutines"`
	Uptime        time.Duration `json:"-"`
	Platform      string        `json:"platform"`
}

// CPUSample is a cumulative CPU tick counter.
type CPUSample struct {
	Idle, Total uint64
}

// MemorySample is an instantaneous memory reading in bytes.
type MemorySample struct {
	Used, Total uint64
}

// Source reads raw host counters. The default source uses go-osstat.
type Source interface {
	CPU() (CPUSample, error)
	Memory() (MemorySample, error)
	Uptime() (time.Duration, error)
}

// Option configures a [Collector].
type Option func(*Collector)

// WithSource replaces the host counter source.
func WithSource(s Source) Option {
	return func(c *Collector) { c.src = s }
}

// WithSampleWindow sets the CPU sampling interval.
func WithSampleWindow(d time.Duration) Option {
	return func(c *Collector) { c.window = d }
}

// WithClock sets the clock used to wait between CPU samples.
func WithClock(clk clock.Clock) Option {
	return func(c *Collector) { c.clock = clk }
}

// Collector takes telemetry snapshots. Safe for concurrent use.
type Collector struct {
	src    Source
	window time.Duration
	clock  clock.Clock
}

// New returns a Collector reading the local host.
func New(opts ...Option) *Collector {
	c := &Collector{
		src:    osstatSource{},
		window: DefaultSampleWindow,
		clock:  clock.Real{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect samples CPU twice across the sample window and reads memory and
// uptime. Uptime failures are tolerated since not every platform reports it.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	before, err := c.src.CPU()
	if err != nil {
		return Snapshot{}, fmt.Errorf("telemetry: read cpu: %w", err)
	}
	if err := clock.Sleep(ctx, c.clock, c.window); err != nil {
		return Snapshot{}, fmt.Errorf("telemetry: sample cpu: %w", err)
	}
	after, err := c.src.CPU()
	if err != nil {
		return Snapshot{}, fmt.Errorf("telemetry: read cpu: %w", err)
	}
	mem, err := c.src.Memory()
	if err != nil {
		return Snapshot{}, fmt.Errorf("telemetry: read memory: %w", err)
	}

	snap := Snapshot{
		CPUPercent: cpuPercent(before, after),
		Goroutines: runtime.NumGoroutine(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if mem.Total > 0 {
		snap.MemoryPercent = round1(float64(mem.Used) / float64(mem.Total) * 100)
		snap.MemoryUsedMB = mem.Used / (1 << 20)
	}
	if up, err := c.src.Uptime(); err == nil {
		snap.Uptime = up
	}
	return snap, nil
}

func cpuPercent(before, after CPUSample) float64 {
	total := float64(after.Total) - float64(before.Total)
	if total <= 0 {
		return 0
	}
	idle := float64(after.Idle) - float64(before.Idle)
	return round1((total - idle) / total * 100)
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

// ── go-osstat ───────────────────────────────────────────────────────────────

type osstatSource struct{}

func (osstatSource) CPU() (CPUSample, error) {
	s, err := cpu.Get()
	if err != nil {
		return CPUSample{}, err
	}
	return CPUSample{Idle: s.Idle, Total: s.Total}, nil
}

func (osstatSource) Memory() (MemorySample, error) {
	s, err := memory.Get()
	if err != nil {
		return MemorySample{}, err
	}
	return MemorySample{Used: s.Used, Total: s.Total}, nil
}

func (osstatSource) Uptime() (time.Duration, error) {
	return uptime.Get()
}
