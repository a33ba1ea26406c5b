// Package ristretto is the default in-process related-entries cache.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/recallstack/memory-infra/internal/config"
	registrycache "github.com/recallstack/memory-infra/internal/registry/cache"
	"github.com/recallstack/memory-infra/internal/telemetry"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "ristretto",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.RelatedCache, error) {
	ttl := defaultTTL
	if cfg := config.FromContext(ctx); cfg != nil && cfg.CacheTTL > 0 {
		ttl = cfg.CacheTTL
	}
	return New(ttl)
}

// New returns a ristretto-backed cache with the given entry TTL.
func New(ttl time.Duration) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []string]{
		NumCounters: 1e6,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto cache: %w", err)
	}
	return &Cache{inner: inner, ttl: ttl}, nil
}

type Cache struct {
	inner *ristretto.Cache[string, []string]
	ttl   time.Duration
}

func key(userID, entryID string) string {
	return userID + ":" + entryID
}

func (c *Cache) Get(_ context.Context, userID, entryID string) ([]string, bool) {
	related, ok := c.inner.Get(key(userID, entryID))
	if telemetry.CacheHitsTotal != nil {
		if ok {
			telemetry.CacheHitsTotal.Inc()
		} else {
			telemetry.CacheMissesTotal.Inc()
		}
	}
	return related, ok
}

func (c *Cache) Set(_ context.Context, userID, entryID string, related []string) {
	cost := int64(1 + len(related))
	c.inner.SetWithTTL(key(userID, entryID), related, cost, c.ttl)
	// Writes are buffered; related lists are advisory so losing one is fine.
}

func (c *Cache) Remove(_ context.Context, userID, entryID string) {
	c.inner.Del(key(userID, entryID))
}

var _ registrycache.RelatedCache = (*Cache)(nil)
