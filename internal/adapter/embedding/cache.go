package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"rlg/internal/port"
)

// CachedEmbedder wraps an Embedder with an LRU+TTL cache keyed by text
// hash. Claim verification re-embeds the same excerpts repeatedly within
// and across queries; the cache keeps that cheap.
type CachedEmbedder struct {
	inner port.Embedder

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	vector    []float32
	timestamp time.Time
}

// NewCachedEmbedder wraps inner with a cache of maxSize entries and the
// given TTL.
func NewCachedEmbedder(inner port.Embedder, maxSize int, ttl time.Duration) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedEmbedder{
		inner:   inner,
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:16])
}

// Embed returns cached vectors where possible and calls the inner
// embedder only for misses.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingAt []int

	c.mu.Lock()
	now := time.Now()
	for i, text := range texts {
		key := cacheKey(text)
		if entry, ok := c.entries[key]; ok && now.Sub(entry.timestamp) <= c.ttl {
			out[i] = entry.vector
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, vec := range vectors {
		out[missingAt[j]] = vec
		c.put(cacheKey(missing[j]), vec)
	}
	c.mu.Unlock()

	return out, nil
}

// put inserts under c.mu, evicting the oldest entry when full.
func (c *CachedEmbedder) put(key string, vec []float32) {
	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = &cacheEntry{vector: vec, timestamp: time.Now()}
}

// Dimension returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// ModelName returns the inner embedder's model name.
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}
