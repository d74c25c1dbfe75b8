// Package observe provides application-wide observability primitives for
// jarvis: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all jarvis metrics.
const meterName = "github.com/MrWong99/jarvis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from Connect to an open remote session.
	ConnectDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool handler latency. Use with attribute:
	//   attribute.String("tool", ...)
	ToolExecutionDuration metric.Float64Histogram

	// KnowledgeSearchDuration tracks knowledge store query latency.
	KnowledgeSearchDuration metric.Float64Histogram

	// --- Session counters ---

	// StateTransitions counts connection state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// FramesSent counts microphone chunks handed to the remote session.
	FramesSent metric.Int64Counter

	// FramesDropped counts chunks that never reached the remote session. Use
	// with attribute:
	//   attribute.String("reason", "queue_full"|"send_error")
	FramesDropped metric.Int64Counter

	// SegmentsScheduled counts inbound speech segments queued for playback.
	SegmentsScheduled metric.Int64Counter

	// Interruptions counts playback flushes caused by barge-in.
	Interruptions metric.Int64Counter

	// SpeakingTransitions counts VAD transitions. Use with attribute:
	//   attribute.Bool("speaking", ...)
	SpeakingTransitions metric.Int64Counter

	// --- Wake listener counters ---

	// WakeMatches counts activation phrase detections. Use with attribute:
	//   attribute.String("method", "contains"|"phonetic")
	WakeMatches metric.Int64Counter

	// WakeRestarts counts recognition session restarts.
	WakeRestarts metric.Int64Counter

	// RecognitionErrors counts swallowed recognition engine errors.
	RecognitionErrors metric.Int64Counter

	// --- Tools ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// EventsDropped counts presentation events dropped for slow subscribers.
	// Use with attribute:
	//   attribute.String("type", ...)
	EventsDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live remote sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method, matched route and status code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.ConnectDuration, err = histogram("jarvis.session.connect.duration",
		"Latency from connect request to an open remote session."); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = histogram("jarvis.tool_execution.duration",
		"Latency of local tool execution."); err != nil {
		return nil, err
	}
	if met.KnowledgeSearchDuration, err = histogram("jarvis.knowledge.search.duration",
		"Latency of knowledge store searches."); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.StateTransitions, "jarvis.session.transitions", "Connection state transitions by from and to state."},
		{&met.FramesSent, "jarvis.capture.frames_sent", "Microphone chunks sent to the remote session."},
		{&met.FramesDropped, "jarvis.capture.frames_dropped", "Microphone chunks dropped by reason."},
		{&met.SegmentsScheduled, "jarvis.playback.segments", "Inbound speech segments scheduled for playback."},
		{&met.Interruptions, "jarvis.playback.interruptions", "Playback flushes caused by interruptions."},
		{&met.SpeakingTransitions, "jarvis.vad.transitions", "Voice activity transitions."},
		{&met.WakeMatches, "jarvis.wake.matches", "Activation phrase detections by match method."},
		{&met.WakeRestarts, "jarvis.wake.restarts", "Passive recognition session restarts."},
		{&met.RecognitionErrors, "jarvis.wake.recognition_errors", "Recognition engine errors swallowed by the wake listener."},
		{&met.ToolCalls, "jarvis.tool.calls", "Total tool invocations by tool name and status."},
		{&met.ProviderErrors, "jarvis.provider.errors", "Total provider errors by provider and kind."},
		{&met.EventsDropped, "jarvis.events.dropped", "Presentation events dropped for slow subscribers."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("jarvis.active_sessions",
		metric.WithDescription("Number of live remote sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("jarvis.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition records a connection state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordFrameDropped records a microphone chunk that was not delivered.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSpeaking records a VAD transition.
func (m *Metrics) RecordSpeaking(ctx context.Context, speaking bool) {
	m.SpeakingTransitions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speaking", speaking)))
}

// RecordWakeMatch records an activation phrase detection.
func (m *Metrics) RecordWakeMatch(ctx context.Context, method string) {
	m.WakeMatches.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordEventDropped records a presentation event dropped for a slow
// subscriber.
func (m *Metrics) RecordEventDropped(ctx context.Context, eventType string) {
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
