package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl returns the schema with the vector width substituted; the width is part
// of the column type.
func ddl(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_documents (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    tags        TEXT[]       NOT NULL DEFAULT '{}',
    embedding   vector(%d),
    tsv         tsvector     GENERATED ALWAYS AS (
                    setweight(to_tsvector('english', title), 'A') ||
                    setweight(to_tsvector('english', content), 'B')
                ) STORED,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_documents_tsv
    ON knowledge_documents USING GIN (tsv);

CREATE INDEX IF NOT EXISTS idx_knowledge_documents_embedding
    ON knowledge_documents USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate creates the extension, table and indexes. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("knowledge postgres: migrate: dimensions must be positive, got %d", dimensions)
	}
	if _, err := pool.Exec(ctx, ddl(dimensions)); err != nil {
		return fmt.Errorf("knowledge postgres: migrate: %w", err)
	}
	return nil
}

// lexicalQuery ranks full-text matches by normalised ts_rank_cd.
// $1 query text, $2 limit.
const lexicalQuery = `
	WITH q AS (SELECT websearch_to_tsquery('english', $1) AS tsq)
	SELECT d.title, d.content, ts_rank_cd(d.tsv, q.tsq, 32) AS score
	FROM   knowledge_documents d, q
	WHERE  d.tsv @@ q.tsq
	ORDER  BY score DESC, d.id
	LIMIT  $2`

// hybridQuery blends lexical rank with cosine similarity using the same
// 0.4/0.6 weights as the in-memory store. A document qualifies through either
// signal. $1 query text, $2 query vector, $3 limit.
const hybridQuery = `
	WITH q AS (SELECT websearch_to_tsquery('english', $1) AS tsq)
	SELECT title, content, score FROM (
	    SELECT d.id, d.title, d.content,
	           0.4 * ts_rank_cd(d.tsv, q.tsq, 32)
	         + 0.6 * GREATEST(0, 1 - COALESCE(d.embedding <=> $2, 1)) AS score
	    FROM   knowledge_documents d, q
	    WHERE  d.tsv @@ q.tsq OR d.embedding IS NOT NULL
	) ranked
	WHERE  score > 0
	ORDER  BY score DESC, id
	LIMIT  $3`
