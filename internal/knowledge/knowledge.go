// Package knowledge is the searchable reference store behind the
// search-database tool.
//
// Documents are indexed once (from a YAML seed file at startup) and searched
// per tool call. Two backends exist: [MemStore] for a self-contained install
// and the postgres sub-package for PostgreSQL full-text plus pgvector
// semantic search. [Fallback] chains them so a database outage degrades to
// the in-memory copy instead of failing the tool.
package knowledge

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLimit is the number of results returned when the caller passes a
// non-positive limit.
const DefaultLimit = 5

// snippetRunes bounds the length of [Result.Snippet].
const snippetRunes = 240

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("knowledge: empty query")

// Document is one indexed entry.
type Document struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Content string   `yaml:"content"`
	Tags    []string `yaml:"tags"`
}

// Result is a ranked search hit as returned to the model.
type Result struct {
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Searcher answers free-text queries.
type Searcher interface {
	// Search returns at most limit results, best first. No match is an empty
	// slice, not an error.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Indexer stores documents, replacing existing ones with the same ID.
type Indexer interface {
	Index(ctx context.Context, docs []Document) error
}

// Store is a backend that can be both seeded and searched.
type Store interface {
	Searcher
	Indexer
}

// Terms splits a query into lowercase search terms, dropping punctuation and
// one-letter words.
func Terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// Snippet returns a window of content around the first occurrence of any
// term, trimmed to whole words.
func Snippet(content string, terms []string) string {
	r := []rune(strings.Join(strings.Fields(content), " "))
	if len(r) <= snippetRunes {
		return string(r)
	}
	lower := make([]rune, len(r))
	for i, c := range r {
		lower[i] = unicode.ToLower(c)
	}
	ls := string(lower)
	at := -1
	for _, t := range terms {
		if i := strings.Index(ls, t); i >= 0 {
			if ri := utf8.RuneCountInString(ls[:i]); at < 0 || ri < at {
				at = ri
			}
		}
	}
	start := max(at-snippetRunes/4, 0)
	end := min(start+snippetRunes, len(r))
	start = max(end-snippetRunes, 0)

	s := string(r[start:end])
	if start > 0 {
		if i := strings.IndexByte(s, ' '); i >= 0 {
			s = s[i+1:]
		}
		s = "…" + s
	}
	if end < len(r) {
		if i := strings.LastIndexByte(s, ' '); i >= 0 {
			s = s[:i]
		}
		s += "…"
	}
	return s
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
