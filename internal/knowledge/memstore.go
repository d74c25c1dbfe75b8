package knowledge

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/embeddings"
)

// Score weights for hybrid ranking. Without an embedder the lexical score is
// used alone.
const (
	lexicalWeight  = 0.4
	semanticWeight = 0.6
)

// MemStore is an in-memory [Store]. Safe for concurrent use.
type MemStore struct {
	embedder embeddings.Provider

	mu    sync.RWMutex
	order []string
	docs  map[string]memDoc
}

type memDoc struct {
	Document
	title  string
	body   string
	vector []float32
}

var _ Store = (*MemStore)(nil)

// MemOption configures a [MemStore].
type MemOption func(*MemStore)

// WithEmbedder enables semantic ranking. Documents are embedded on Index and
// queries on Search.
func WithEmbedder(p embeddings.Provider) MemOption {
	return func(m *MemStore) { m.embedder = p }
}

// NewMemStore returns an empty store.
func NewMemStore(opts ...MemOption) *MemStore {
	m := &MemStore{docs: make(map[string]memDoc)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Index implements [Indexer].
func (m *MemStore) Index(ctx context.Context, docs []Document) error {
	var vecs [][]float32
	if m.embedder != nil && len(docs) > 0 {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Title + "\n" + d.Content
		}
		var err error
		if vecs, err = m.embedder.EmbedBatch(ctx, texts); err != nil {
			return fmt.Errorf("knowledge: memstore: embed documents: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range docs {
		md := memDoc{
			Document: d,
			title:    strings.ToLower(d.Title),
			body:     strings.ToLower(d.Content + " " + strings.Join(d.Tags, " ")),
		}
		if vecs != nil {
			md.vector = vecs[i]
		}
		if _, exists := m.docs[d.ID]; !exists {
			m.order = append(m.order, d.ID)
		}
		m.docs[d.ID] = md
	}
	return nil
}

// Len reports the number of indexed documents.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Search implements [Searcher]. A document matches when at least one query
// term occurs in it or, with an embedder, when it is semantically similar.
func (m *MemStore) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, ErrEmptyQuery
	}
	var qvec []float32
	if m.embedder != nil {
		var err error
		if qvec, err = m.embedder.Embed(ctx, query); err != nil {
			return nil, fmt.Errorf("knowledge: memstore: embed query: %w", err)
		}
	}

	m.mu.RLock()
	results := make([]Result, 0, len(m.docs))
	for _, id := range m.order {
		d := m.docs[id]
		score := lexicalScore(d, terms)
		if qvec != nil && d.vector != nil {
			score = lexicalWeight*score + semanticWeight*max(0, embeddings.Cosine(qvec, d.vector))
		}
		if score <= 0 {
			continue
		}
		results = append(results, Result{Title: d.Title, Snippet: Snippet(d.Content, terms), Score: round3(score)})
	}
	m.mu.RUnlock()

	slices.SortStableFunc(results, func(a, b Result) int { return cmp.Compare(b.Score, a.Score) })
	if l := normalizeLimit(limit); len(results) > l {
		results = results[:l]
	}
	return results, nil
}

// lexicalScore is the fraction of terms found in the document, with title
// hits counting double, scaled to [0, 1].
func lexicalScore(d memDoc, terms []string) float64 {
	var hit float64
	for _, t := range terms {
		switch {
		case strings.Contains(d.title, t):
			hit += 2
		case strings.Contains(d.body, t):
			hit++
		}
	}
	return hit / float64(2*len(terms))
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
