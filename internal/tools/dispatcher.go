package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/knowledge"
	"github.com/MrWong99/jarvis/internal/launch"
	"github.com/MrWong99/jarvis/internal/notify"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/telemetry"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

// Result status values.
const (
	StatusSuccess          = "success"
	StatusError            = "error"
	StatusPermissionDenied = "permission_denied"
)

// statusUnknown labels metrics for calls to undeclared tools.
const statusUnknown = "unknown"

// Telemetry takes host snapshots.
type Telemetry interface {
	Collect(ctx context.Context) (telemetry.Snapshot, error)
}

// Launcher opens apps and returns the URL it opened.
type Launcher interface {
	Open(ctx context.Context, app, query string) (string, error)
}

// Torch is a switchable flashlight.
type Torch interface {
	On() error
	Off() error
	Release() error
}

// ErrUnavailable is reported when a tool's backing facility is not
// configured on this host.
var ErrUnavailable = errors.New("tools: facility unavailable")

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithBus publishes status updates and tool log lines to bus.
func WithBus(bus *events.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithMetrics records call counts and durations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTelemetry sets the scanSystem backend.
func WithTelemetry(t Telemetry) Option {
	return func(d *Dispatcher) { d.telemetry = t }
}

// WithKnowledge sets the searchDatabase backend.
func WithKnowledge(s knowledge.Searcher) Option {
	return func(d *Dispatcher) { d.knowledge = s }
}

// WithSearchLimit caps searchDatabase results. Default: [knowledge.DefaultLimit].
func WithSearchLimit(n int) Option {
	return func(d *Dispatcher) { d.searchLimit = n }
}

// WithLauncher sets the openApp backend.
func WithLauncher(l Launcher) Option {
	return func(d *Dispatcher) { d.launcher = l }
}

// WithTorch sets the controlFlashlight backend.
func WithTorch(t Torch) Option {
	return func(d *Dispatcher) { d.torch = t }
}

// WithNotifier sets the sendNotification backend.
func WithNotifier(n notify.Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// Dispatcher executes tool calls. Calls are handled one at a time in the
// order given; handler failures become error-status results and never
// propagate.
type Dispatcher struct {
	bus         *events.Bus
	metrics     *observe.Metrics
	telemetry   Telemetry
	knowledge   knowledge.Searcher
	searchLimit int
	launcher    Launcher
	torch       Torch
	notifier    notify.Notifier
}

// NewDispatcher returns a Dispatcher. Without explicit backends it collects
// local telemetry, opens apps with the system browser and prints
// notifications to the console; knowledge search and the flashlight report
// [ErrUnavailable].
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		telemetry:   telemetry.New(),
		launcher:    launch.New(),
		notifier:    notify.NewConsole(),
		searchLimit: knowledge.DefaultLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch runs calls sequentially and returns one result per known call, in
// call order. Calls to undeclared tools are logged as protocol violations and
// produce no result.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []s2s.ToolCall) []s2s.ToolResult {
	results := make([]s2s.ToolResult, 0, len(calls))
	for _, c := range calls {
		resp, ok := d.handle(ctx, c)
		if !ok {
			continue
		}
		results = append(results, s2s.ToolResult{ID: c.ID, Name: c.Name, Response: resp})
	}
	return results
}

// handle decodes and executes one call. ok is false for unknown tools.
func (d *Dispatcher) handle(ctx context.Context, c s2s.ToolCall) (resp map[string]any, ok bool) {
	log := observe.Logger(ctx).With("tool", c.Name, "call_id", c.ID)

	call, err := Decode(c)
	switch {
	case errors.Is(err, ErrUnknownTool):
		log.Warn("model called an undeclared tool")
		d.record(ctx, c.Name, statusUnknown, 0)
		return nil, false
	case err != nil:
		log.Warn("tool call rejected", "err", err)
		d.bus.Logf(events.SourceTool, "%s: %v", c.Name, err)
		d.record(ctx, c.Name, StatusError, 0)
		return errorResult(err), true
	}
	return d.Execute(ctx, call), true
}

// Execute runs a decoded call and returns the response object sent back to
// the model. It is also the entry point for the MCP tool console.
func (d *Dispatcher) Execute(ctx context.Context, call Call) map[string]any {
	name := call.ToolName()
	ctx, span := observe.StartSpan(ctx, "tool."+name, trace.WithAttributes(attribute.String("tool", name)))
	defer span.End()

	start := time.Now()
	resp, err := d.run(ctx, call)
	status := StatusSuccess
	switch {
	case errors.Is(err, notify.ErrPermissionDenied):
		status = StatusPermissionDenied
		resp = map[string]any{"status": StatusPermissionDenied}
		d.bus.Logf(events.SourceTool, "%s: notification permission denied", name)
	case err != nil:
		status = StatusError
		resp = errorResult(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Error("tool failed", "tool", name, "err", err)
		d.bus.Logf(events.SourceTool, "%s failed: %v", name, err)
	default:
		resp["status"] = StatusSuccess
	}
	d.record(ctx, name, status, time.Since(start))
	return resp
}

// Release switches the flashlight off. Called on session teardown.
func (d *Dispatcher) Release() error {
	if d.torch == nil {
		return nil
	}
	if err := d.torch.Release(); err != nil {
		return fmt.Errorf("tools: release flashlight: %w", err)
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, call Call) (map[string]any, error) {
	switch c := call.(type) {
	case ToggleTheme:
		d.bus.Status(events.Status{Theme: c.Theme})
		d.bus.Logf(events.SourceTool, "Theme switched to %s", c.Theme)
		return map[string]any{"theme": c.Theme}, nil

	case ScanSystem:
		snap, err := d.telemetry.Collect(ctx)
		if err != nil {
			return nil, err
		}
		cpu, mem := snap.CPUPercent, snap.MemoryPercent
		d.bus.Status(events.Status{
			CPU:        &cpu,
			Memory:     &mem,
			Goroutines: snap.Goroutines,
			Uptime:     snap.Uptime.String(),
			Platform:   snap.Platform,
		})
		return map[string]any{
			"cpu_percent":    snap.CPUPercent,
			"memory_percent": snap.MemoryPercent,
			"memory_used_mb": snap.MemoryUsedMB,
			"goroutines":     snap.Goroutines,
			"uptime":         snap.Uptime.String(),
			"platform":       snap.Platform,
		}, nil

	case SearchDatabase:
		if d.knowledge == nil {
			return nil, fmt.Errorf("%w: knowledge base", ErrUnavailable)
		}
		res, err := d.knowledge.Search(ctx, c.Query, d.searchLimit)
		if err != nil {
			return nil, err
		}
		d.bus.Logf(events.SourceTool, "Knowledge search %q: %d result(s)", c.Query, len(res))
		return map[string]any{"query": c.Query, "results": res}, nil

	case OpenApp:
		u, err := d.launcher.Open(ctx, c.App, c.Query)
		if err != nil {
			return nil, err
		}
		d.bus.Logf(events.SourceTool, "Opened %s", c.App)
		return map[string]any{"app": c.App, "url": u}, nil

	case ControlFlashlight:
		if d.torch == nil {
			return nil, fmt.Errorf("%w: flashlight", ErrUnavailable)
		}
		state, op := "OFF", d.torch.Off
		if c.On {
			state, op = "ON", d.torch.On
		}
		if err := op(); err != nil {
			return nil, err
		}
		d.bus.Status(events.Status{Flashlight: state})
		return map[string]any{"state": state}, nil

	case SendNotification:
		if d.notifier == nil || !d.notifier.Permission(ctx) {
			return nil, notify.ErrPermissionDenied
		}
		if err := d.notifier.Notify(ctx, notify.Notification{Title: c.Title, Body: c.Body}); err != nil {
			return nil, err
		}
		d.bus.Logf(events.SourceTool, "Notification sent: %s", c.Title)
		return map[string]any{}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTool, call)
	}
}

func (d *Dispatcher) record(ctx context.Context, tool, status string, dur time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordToolCall(ctx, tool, status)
	if dur > 0 {
		d.metrics.ToolExecutionDuration.Record(ctx, dur.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
	}
}

func errorResult(err error) map[string]any {
	return map[string]any{"status": StatusError, "message": err.Error()}
}

// Results is a slice of tool results that logs as name=status pairs.
type Results []s2s.ToolResult

var _ slog.LogValuer = Results(nil)

// LogValue implements [slog.LogValuer].
func (r Results) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(r))
	for _, res := range r {
		attrs = append(attrs, slog.Any(res.Name, res.Response["status"]))
	}
	return slog.GroupValue(attrs...)
}
