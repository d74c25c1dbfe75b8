package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedFile is the on-disk knowledge base format.
//
//	documents:
//	  - id: reactor
//	    title: Arc reactor maintenance
//	    content: The palladium core must be replaced every ...
//	    tags: [hardware]
type SeedFile struct {
	Documents []Document `yaml:"documents"`
}

// LoadSeedFile reads a seed file from disk.
func LoadSeedFile(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open seed file %q: %w", path, err)
	}
	defer f.Close()
	docs, err := LoadSeed(f)
	if err != nil {
		return nil, fmt.Errorf("knowledge: seed file %q: %w", path, err)
	}
	return docs, nil
}

// LoadSeed parses seed YAML. Unknown fields are rejected. Documents without an
// ID get one derived from the title.
func LoadSeed(r io.Reader) ([]Document, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var errs []error
	seen := make(map[string]int, len(sf.Documents))
	for i := range sf.Documents {
		d := &sf.Documents[i]
		d.Title = strings.TrimSpace(d.Title)
		if d.Title == "" {
			errs = append(errs, fmt.Errorf("documents[%d]: title is required", i))
			continue
		}
		if strings.TrimSpace(d.Content) == "" {
			errs = append(errs, fmt.Errorf("documents[%d] %q: content is required", i, d.Title))
		}
		if d.ID == "" {
			d.ID = slug(d.Title)
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", i)
		}
		if j, dup := seen[d.ID]; dup {
			errs = append(errs, fmt.Errorf("documents[%d]: duplicate id %q (first at documents[%d])", i, d.ID, j))
		}
		seen[d.ID] = i
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sf.Documents, nil
}

// Seed loads path and indexes its documents into idx. It returns the number of
// documents indexed.
func Seed(ctx context.Context, idx Indexer, path string) (int, error) {
	docs, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	if err := idx.Index(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func slug(s string) string {
	return strings.Join(Terms(s), "-")
}
