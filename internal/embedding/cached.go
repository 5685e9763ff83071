package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// CachedProvider memoizes vectors per trimmed input text. Concurrent calls for
// the same text share one upstream request. Failures are not cached.
type CachedProvider struct {
	next  Provider
	cache *ristretto.Cache
	group singleflight.Group
}

// NewCachedProvider wraps next with a cache bounded by maxCost bytes.
func NewCachedProvider(next Provider, maxCost int64) (*CachedProvider, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedProvider{next: next, cache: cache}, nil
}

func (c *CachedProvider) Dimensions() int { return c.next.Dimensions() }

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if key == "" {
		return nil, ErrEmbeddingUnavailable
	}
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return cloneVector(vec), nil
		}
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		vec, err := c.next.Embed(ctx, key)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, cloneVector(vec), int64(len(vec)*4+len(key)))
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneVector(v.([]float32)), nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachedProvider) Wait() { c.cache.Wait() }

func (c *CachedProvider) Close() { c.cache.Close() }

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
