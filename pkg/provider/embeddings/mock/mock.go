// Package mock provides a test double for the embeddings.Provider interface.
//
// By default the mock embeds text deterministically as a hashed bag of words,
// so texts sharing words score a higher cosine similarity. Set Err to inject
// failures.
package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// DefaultDimensions is used when Dims is zero.
const DefaultDimensions = 32

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length. Default: [DefaultDimensions].
	Dims int

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// Texts records every text embedded, in order.
	Texts []string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return DefaultDimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-bag-of-words" }

// Calls returns the number of texts embedded so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Texts)
}

func (p *Provider) vector(text string) []float32 {
	v := make([]float32, p.Dimensions())
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?")))
		v[h.Sum32()%uint32(len(v))]++
	}
	return embeddings.Normalize(v)
}
