package router

import (
	"container/list"
	"context"
	"sync"

	"github.com/dispatchd/dispatch/internal/embeddings"
)

// DefaultCacheSize bounds the query embedding cache when no capacity is given.
const DefaultCacheSize = 256

// Cache is a bounded, LRU-evicted memo of query text to embedding. Keys are
// the exact, case-sensitive text: this is a string-keyed memo, not a
// semantic cache, so near-identical queries embed separately.
type Cache struct {
	prov     embeddings.Provider
	capacity int

	mu    sync.Mutex
	ll    *list.List // front = most recently used
	items map[string]*list.Element
}

type cacheEntry struct {
	text string
	vec  []float32
}

// NewCache returns a cache over prov holding at most capacity entries.
func NewCache(prov embeddings.Provider, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		prov:     prov,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the embedding for text. A hit returns immediately without
// touching the backend; a miss calls the embedding provider (the only
// suspension point) and stores the result, evicting the least-recently-used
// entry beyond capacity. Provider failures are not cached.
func (c *Cache) Get(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if el, ok := c.items[text]; ok {
		c.ll.MoveToFront(el)
		vec := el.Value.(*cacheEntry).vec
		c.mu.Unlock()
		return copyVec(vec), nil
	}
	c.mu.Unlock()

	// The lock is not held across the backend call; concurrent misses for
	// the same text may embed twice, which is harmless.
	vec, err := c.prov.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[text]; ok {
		c.ll.MoveToFront(el)
		return copyVec(el.Value.(*cacheEntry).vec), nil
	}
	c.items[text] = c.ll.PushFront(&cacheEntry{text: text, vec: vec})
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).text)
	}
	return copyVec(vec), nil
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Contains reports whether text is cached, without touching recency.
func (c *Cache) Contains(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[text]
	return ok
}

func copyVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
