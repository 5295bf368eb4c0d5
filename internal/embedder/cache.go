package embedder

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of query texts to cache.
const DefaultCacheSize = 512

// CachedEmbedder wraps an Embedder with an LRU cache keyed by query text.
// A hit skips all three backend round-trips. Cached QueryVectors are shared
// between invocations; they are read-only by contract.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, *QueryVectors]
}

// NewCachedEmbedder wraps inner with a cache of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *QueryVectors](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// GenerateQueryVectors returns cached vectors for text when present,
// otherwise delegates to the wrapped embedder. Failures are not cached.
func (c *CachedEmbedder) GenerateQueryVectors(ctx context.Context, text string) (*QueryVectors, error) {
	if vectors, ok := c.cache.Get(text); ok {
		return vectors, nil
	}

	vectors, err := c.inner.GenerateQueryVectors(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(text, vectors)
	return vectors, nil
}

// Len reports the number of cached entries.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

var _ Embedder = (*CachedEmbedder)(nil)
