// Package redis backs the related-entries cache with Redis, for deployments
// that run more than one service replica.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/recallstack/memory-infra/internal/config"
	registrycache "github.com/recallstack/memory-infra/internal/registry/cache"
	"github.com/recallstack/memory-infra/internal/telemetry"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.RelatedCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMORY_INFRA_REDIS_URL is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a RelatedCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.RelatedCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

func relatedKey(userID, entryID string) string {
	return fmt.Sprintf("mem-related:%s:%s", userID, entryID)
}

func (c *Cache) Get(ctx context.Context, userID, entryID string) ([]string, bool) {
	data, err := c.client.Get(ctx, relatedKey(userID, entryID)).Bytes()
	if err != nil {
		// goredis.Nil and transport errors alike are a miss.
		if telemetry.CacheMissesTotal != nil {
			telemetry.CacheMissesTotal.Inc()
		}
		return nil, false
	}
	var related []string
	if err := json.Unmarshal(data, &related); err != nil {
		if telemetry.CacheMissesTotal != nil {
			telemetry.CacheMissesTotal.Inc()
		}
		return nil, false
	}
	if telemetry.CacheHitsTotal != nil {
		telemetry.CacheHitsTotal.Inc()
	}
	return related, true
}

func (c *Cache) Set(ctx context.Context, userID, entryID string, related []string) {
	data, err := json.Marshal(related)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, relatedKey(userID, entryID), data, c.ttl).Err()
}

func (c *Cache) Remove(ctx context.Context, userID, entryID string) {
	_ = c.client.Del(ctx, relatedKey(userID, entryID)).Err()
}

var _ registrycache.RelatedCache = (*Cache)(nil)
