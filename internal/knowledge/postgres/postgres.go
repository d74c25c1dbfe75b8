// Package postgres is the PostgreSQL knowledge backend: English full-text
// search over a generated tsvector column, blended with pgvector cosine
// similarity when an embeddings provider is configured.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/jarvis/internal/knowledge"
	"github.com/MrWong99/jarvis/pkg/provider/embeddings"
)

var _ knowledge.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [knowledge.Store]. Safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	dims     int
}

// Option configures a [Store].
type Option func(*Store)

// WithEmbedder enables semantic ranking. Its Dimensions must equal the
// dimensions passed to [NewStore].
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Store) { s.embedder = p }
}

// NewStore connects to dsn, registers the pgvector types on every
// connection and runs [Migrate].
//
// dimensions fixes the vector column width at first migration; changing it
// later requires dropping the table.
func NewStore(ctx context.Context, dsn string, dimensions int, opts ...Option) (*Store, error) {
	s := &Store{dims: dimensions}
	for _, o := range opts {
		o(s)
	}
	if s.embedder != nil && s.embedder.Dimensions() != dimensions {
		return nil, fmt.Errorf("knowledge postgres: embedder %s produces %d dimensions, table has %d",
			s.embedder.ModelID(), s.embedder.Dimensions(), dimensions)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// Ping checks connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Index implements [knowledge.Indexer]. All documents are upserted in one
// transaction.
func (s *Store) Index(ctx context.Context, docs []knowledge.Document) error {
	if len(docs) == 0 {
		return nil
	}
	var vecs [][]float32
	if s.embedder != nil {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Title + "\n" + d.Content
		}
		var err error
		if vecs, err = s.embedder.EmbedBatch(ctx, texts); err != nil {
			return fmt.Errorf("knowledge postgres: embed documents: %w", err)
		}
	}

	const q = `
		INSERT INTO knowledge_documents (id, title, content, tags, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
		    title      = EXCLUDED.title,
		    content    = EXCLUDED.content,
		    tags       = EXCLUDED.tags,
		    embedding  = EXCLUDED.embedding,
		    updated_at = now()`

	batch := &pgx.Batch{}
	for i, d := range docs {
		var vec *pgvector.Vector
		if vecs != nil {
			v := pgvector.NewVector(vecs[i])
			vec = &v
		}
		tags := d.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(q, d.ID, d.Title, d.Content, tags, vec)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("knowledge postgres: index: %w", err)
	}
	return nil
}

// Search implements [knowledge.Searcher].
func (s *Store) Search(ctx context.Context, query string, limit int) ([]knowledge.Result, error) {
	terms := knowledge.Terms(query)
	if len(terms) == 0 {
		return nil, knowledge.ErrEmptyQuery
	}
	if limit <= 0 {
		limit = knowledge.DefaultLimit
	}

	var (
		sql  string
		args []any
	)
	if s.embedder != nil {
		qvec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("knowledge postgres: embed query: %w", err)
		}
		sql, args = hybridQuery, []any{query, pgvector.NewVector(qvec), limit}
	} else {
		sql, args = lexicalQuery, []any{query, limit}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge postgres: search: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Result, error) {
		var (
			r       knowledge.Result
			content string
		)
		if err := row.Scan(&r.Title, &content, &r.Score); err != nil {
			return r, err
		}
		r.Snippet = knowledge.Snippet(content, terms)
		r.Score = float64(int(r.Score*1000+0.5)) / 1000
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge postgres: scan rows: %w", err)
	}
	if results == nil {
		results = []knowledge.Result{}
	}
	return results, nil
}
