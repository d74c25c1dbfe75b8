package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/embeddings"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned when no factory exists for the
// requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds as they appear under the providers section.
const (
	KindS2S        = "s2s"
	KindSTT        = "stt"
	KindEmbeddings = "embeddings"
)

// Factory builds a provider from its configuration entry.
type Factory[P any] func(ProviderEntry) (P, error)

// table is a named set of factories for one provider kind.
type table[P any] struct {
	kind string
	m    map[string]Factory[P]
}

func newTable[P any](kind string) table[P] {
	return table[P]{kind: kind, m: make(map[string]Factory[P])}
}

// Registry maps provider names to factories. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	s2s        table[s2s.Provider]
	stt        table[stt.Provider]
	embeddings table[embeddings.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:        newTable[s2s.Provider](KindS2S),
		stt:        newTable[stt.Provider](KindSTT),
		embeddings: newTable[embeddings.Provider](KindEmbeddings),
	}
}

// RegisterS2S registers a speech-to-speech factory. A later registration
// under the same name replaces the earlier one.
func (r *Registry) RegisterS2S(name string, f Factory[s2s.Provider]) { register(r, r.s2s, name, f) }

// RegisterSTT registers a wake-phrase recogniser factory.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { register(r, r.stt, name, f) }

// RegisterEmbeddings registers an embeddings factory.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	register(r, r.embeddings, name, f)
}

// CreateS2S builds the speech-to-speech provider named by entry.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	return create(r, r.s2s, entry)
}

// CreateSTT builds the recogniser named by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, entry)
}

// CreateEmbeddings builds the embeddings provider named by entry.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return create(r, r.embeddings, entry)
}

// Names lists the registered provider names of kind in sorted order.
// Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindS2S:
		return slices.Sorted(maps.Keys(r.s2s.m))
	case KindSTT:
		return slices.Sorted(maps.Keys(r.stt.m))
	case KindEmbeddings:
		return slices.Sorted(maps.Keys(r.embeddings.m))
	}
	return nil
}

func register[P any](r *Registry, t table[P], name string, f Factory[P]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.m[name] = f
}

func create[P any](r *Registry, t table[P], entry ProviderEntry) (P, error) {
	r.mu.RLock()
	f, ok := t.m[entry.Name]
	var known []string
	if !ok {
		known = slices.Sorted(maps.Keys(t.m))
	}
	r.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q (registered: %v)", ErrProviderNotRegistered, t.kind, entry.Name, known)
	}
	return f(entry)
}
