package knowledge

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/resilience"
)

// Fallback searches the first healthy backend of an ordered chain. Each
// backend has its own circuit breaker. An empty query is rejected up front so
// it never trips a breaker.
type Fallback struct {
	group   *resilience.FallbackGroup[Searcher]
	metrics *observe.Metrics
}

var _ Searcher = (*Fallback)(nil)

// NewFallback starts a chain with primary.
func NewFallback(primary Searcher, name string, cfg resilience.FallbackConfig, metrics *observe.Metrics) *Fallback {
	return &Fallback{group: resilience.NewFallbackGroup(primary, name, cfg), metrics: metrics}
}

// AddFallback appends a backend.
func (f *Fallback) AddFallback(name string, s Searcher) {
	f.group.AddFallback(name, s)
}

// States reports per-backend breaker states.
func (f *Fallback) States() map[string]resilience.State { return f.group.States() }

// Search implements [Searcher].
func (f *Fallback) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if len(Terms(query)) == 0 {
		return nil, ErrEmptyQuery
	}
	ctx, span := observe.StartSpan(ctx, "knowledge.search",
		trace.WithAttributes(attribute.Int("limit", normalizeLimit(limit))))
	defer span.End()

	start := time.Now()
	results, err := resilience.ExecuteWithResult(ctx, f.group, func(s Searcher) ([]Result, error) {
		res, err := s.Search(ctx, query, limit)
		if errors.Is(err, ErrEmptyQuery) {
			// not a backend fault
			return nil, nil
		}
		return res, err
	})
	if f.metrics != nil {
		f.metrics.KnowledgeSearchDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.Bool("error", err != nil)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	if results == nil {
		results = []Result{}
	}
	return results, nil
}
