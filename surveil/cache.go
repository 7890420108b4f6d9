package surveil

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"killwatch/metrics"
)

const matchCacheKeyPrefix = "match:"

// ResultCache absorbs duplicate delivery of the same killmail by caching the
// matched profile ID set per killmail identity for a short TTL. The cache is
// purely an optimization: any failure falls through to full recomputation and
// a stale entry is never served past its TTL.
//
// Two tiers: an always-present in-process expirable LRU (expiry checked on
// lookup, reaped by its background sweep) and an optional shared Redis tier
// for multi-instance deployments.
type ResultCache struct {
	ttl    time.Duration
	lru    *expirable.LRU[string, []string]
	redis  *redis.Client
	logger *zap.SugaredLogger
}

// NewResultCache creates a result cache. redisClient may be nil to run with
// the in-memory tier only.
func NewResultCache(size int, ttl time.Duration, redisClient *redis.Client, logger *zap.SugaredLogger) *ResultCache {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResultCache{
		ttl:    ttl,
		lru:    expirable.NewLRU[string, []string](size, nil, ttl),
		redis:  redisClient,
		logger: logger,
	}
}

// Get returns the cached matched profile IDs for a killmail identity.
func (c *ResultCache) Get(ctx context.Context, identity string) ([]string, bool) {
	if ids, ok := c.lru.Get(identity); ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return ids, true
	}
	metrics.CacheMisses.WithLabelValues("memory").Inc()

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, matchCacheKeyPrefix+identity).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warnf("Result cache redis get failed for %s: %v", identity, err)
			metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		} else {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
		}
		return nil, false
	}

	var ids []string
	if err := msgpack.Unmarshal(data, &ids); err != nil {
		c.logger.Warnf("Result cache redis entry for %s is corrupt, ignoring: %v", identity, err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	// Promote into the memory tier for subsequent retries on this instance.
	c.lru.Add(identity, ids)
	return ids, true
}

// Put stores the matched profile IDs for a killmail identity in both tiers.
func (c *ResultCache) Put(ctx context.Context, identity string, profileIDs []string) {
	c.lru.Add(identity, profileIDs)

	if c.redis == nil {
		return
	}
	data, err := msgpack.Marshal(profileIDs)
	if err != nil {
		c.logger.Warnf("Result cache failed to encode entry for %s: %v", identity, err)
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return
	}
	if err := c.redis.Set(ctx, matchCacheKeyPrefix+identity, data, c.ttl).Err(); err != nil {
		c.logger.Warnf("Result cache redis set failed for %s: %v", identity, err)
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
	}
}

// Invalidate drops a single identity from both tiers.
func (c *ResultCache) Invalidate(ctx context.Context, identity string) {
	c.lru.Remove(identity)
	if c.redis != nil {
		if err := c.redis.Del(ctx, matchCacheKeyPrefix+identity).Err(); err != nil {
			c.logger.Warnf("Result cache redis delete failed for %s: %v", identity, err)
			metrics.CacheErrors.WithLabelValues("redis", "delete").Inc()
		}
	}
}

// Purge clears the in-memory tier. Lifecycle operations call this so cached
// match sets never outlive a profile change by more than the publish step.
func (c *ResultCache) Purge() {
	c.lru.Purge()
}

// TTL returns the configured entry lifetime.
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}
