package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"policyrag/internal/port"
)

// CachedEmbedder memoises embeddings of repeated texts (usually queries) for
// a TTL. Only texts missing from the cache are sent to the wrapped embedder,
// in a single call.
type CachedEmbedder struct {
	inner port.Embedder
	cache *gocache.Cache
}

// NewCachedEmbedder wraps inner. Entries expire after ttl; expired entries
// are purged every 2*ttl.
func NewCachedEmbedder(inner port.Embedder, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedEmbedder{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	data := []byte(c.inner.ModelName())
	data = append(data, 0)
	data = append(data, text...)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := c.cache.Get(c.cacheKey(text)); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.SetDefault(c.cacheKey(texts[i]), vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Size returns the number of cached vectors, expired ones included until purged.
func (c *CachedEmbedder) Size() int {
	return c.cache.ItemCount()
}

// Invalidate drops every cached vector.
func (c *CachedEmbedder) Invalidate() {
	c.cache.Flush()
}
