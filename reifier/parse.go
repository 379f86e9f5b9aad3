package reifier

import (
	"context"
	"os"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lorents/fuse-studio/markup"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type parseKey struct {
	path string
	hash uint64
}

// parser reads and parses markup files. Parsed documents are shared
// between reifies and must not be modified.
type parser struct {
	cache *lru.Cache[parseKey, *markup.Document]
}

func newParser(size int) *parser {
	cache, _ := lru.New[parseKey, *markup.Document](size)
	return &parser{cache: cache}
}

// parseAll reads every file in parallel. Any failure fails the whole set.
func (p *parser) parseAll(ctx context.Context, paths []string) ([]*markup.Document, error) {
	docs := make([]*markup.Document, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrap(err, "read")
			}
			key := parseKey{path: path, hash: xxhash.Sum64(data)}
			if doc, ok := p.cache.Get(key); ok {
				ParseCacheHits.Inc()
				docs[i] = doc
				return nil
			}
			doc, err := markup.Parse(path, data)
			if err != nil {
				return err
			}
			p.cache.Add(key, doc)
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
