package postgres_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/jarvis/internal/knowledge"
	"github.com/MrWong99/jarvis/internal/knowledge/postgres"
	embedmock "github.com/MrWong99/jarvis/pkg/provider/embeddings/mock"
)

const testDims = 16

// newTestStore skips unless JARVIS_TEST_POSTGRES_DSN points at a database
// with the vector extension available. The table is dropped first.
func newTestStore(t *testing.T, opts ...postgres.Option) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("JARVIS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JARVIS_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS knowledge_documents"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	s, err := postgres.NewStore(ctx, dsn, testDims, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

var docs = []knowledge.Document{
	{ID: "reactor", Title: "Arc reactor", Content: "The palladium core of the arc reactor must be replaced when toxicity rises."},
	{ID: "suit", Title: "Mark suit inventory", Content: "Suits are stored in the basement workshop and charged nightly."},
	{ID: "lab", Title: "Workshop safety", Content: "Robotic arms in the workshop must be parked before anyone enters."},
}

func TestStore_LexicalSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Index(ctx, docs); err != nil {
		t.Fatalf("Index: %v", err)
	}
	// Re-indexing is an upsert.
	if err := s.Index(ctx, docs[:1]); err != nil {
		t.Fatalf("re-Index: %v", err)
	}

	res, err := s.Search(ctx, "reactor core", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].Title != "Arc reactor" || res[0].Score <= 0 {
		t.Fatalf("results = %+v", res)
	}
	if !strings.Contains(res[0].Snippet, "palladium") {
		t.Errorf("snippet = %q", res[0].Snippet)
	}

	res, err = s.Search(ctx, "workshop", 1)
	if err != nil || len(res) != 1 {
		t.Fatalf("limit: %+v, %v", res, err)
	}

	if res, err := s.Search(ctx, "unobtainium", 5); err != nil || len(res) != 0 {
		t.Errorf("no match = %+v, %v", res, err)
	}
	if _, err := s.Search(ctx, " ? ", 5); !errors.Is(err, knowledge.ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestStore_HybridSearch(t *testing.T) {
	emb := &embedmock.Provider{Dims: testDims}
	s := newTestStore(t, postgres.WithEmbedder(emb))
	ctx := context.Background()
	if err := s.Index(ctx, docs); err != nil {
		t.Fatalf("Index: %v", err)
	}
	res, err := s.Search(ctx, "where are the suits stored", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) == 0 || res[0].Title != "Mark suit inventory" {
		t.Fatalf("results = %+v", res)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNewStore_DimensionMismatch(t *testing.T) {
	t.Parallel()
	_, err := postgres.NewStore(context.Background(), "postgres://unused", testDims,
		postgres.WithEmbedder(&embedmock.Provider{Dims: 8}))
	if err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Fatalf("err = %v, want dimension mismatch", err)
	}
}
