package embed

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cached memoizes an embedder for the lifetime of the process. Concurrent
// lookups of the same text share one call to the underlying embedder.
type Cached struct {
	next  Embedder
	group singleflight.Group

	mu      sync.RWMutex
	vectors map[string][]float32

	// OnLookup, if set, is called with true on a cache hit and false on a miss.
	OnLookup func(hit bool)
}

// NewCached wraps next.
func NewCached(next Embedder) *Cached {
	return &Cached{next: next, vectors: make(map[string][]float32)}
}

// Embed returns the cached vector for text, computing it on first use.
// Callers must not modify the returned slice.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.RLock()
	vec, ok := c.vectors[text]
	c.mu.RUnlock()
	if c.OnLookup != nil {
		c.OnLookup(ok)
	}
	if ok {
		return vec, nil
	}

	v, err, _ := c.group.Do(text, func() (any, error) {
		vec, err := c.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(vec) != c.next.Dimensions() {
			return nil, fmt.Errorf("embedding has %d values, want %d", len(vec), c.next.Dimensions())
		}
		c.mu.Lock()
		c.vectors[text] = vec
		c.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// Dimensions returns the vector length of the wrapped embedder.
func (c *Cached) Dimensions() int {
	return c.next.Dimensions()
}
