package resilience

import (
	"context"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens streams on the first healthy
// backend. Failover happens only at stream start; a stream that dies later is
// reported through its own Err and the wake listener's restart opens a new one.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an STTFallback with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream implements [stt.Provider].
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Stream, error) {
		return p.StartStream(ctx, cfg)
	})
}

// States reports per-backend breaker states.
func (f *STTFallback) States() map[string]State { return f.group.States() }
