// Package usage implements the quota hot path: a date-partitioned ledger
// count fronted by a short-TTL Redis cache, and the rate-limit decision made
// against plan quotas.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// Cache TTL tiers. At-limit entries expire fastest so a denied user is
// re-checked promptly after midnight or an admin bump.
type CacheTTLs struct {
	Negative   time.Duration // count == 0
	UnderLimit time.Duration
	AtLimit    time.Duration
}

func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{Negative: 60 * time.Second, UnderLimit: 30 * time.Second, AtLimit: 5 * time.Second}
}

// incrIfExists bumps a cached count only when the key is still live, so a
// recorded action never resurrects a stale entry with the wrong TTL tier.
const incrIfExists = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return redis.call("INCR", KEYS[1])
end
return -1
`

// CountCache caches daily usage counts per (user, action, date).
type CountCache struct {
	rdb    redis.UniversalClient
	ttls   CacheTTLs
	script *redis.Script
}

func NewCountCache(rdb redis.UniversalClient, ttls CacheTTLs) *CountCache {
	return &CountCache{rdb: rdb, ttls: ttls, script: redis.NewScript(incrIfExists)}
}

func cacheKey(userID string, action domain.UsageAction, date string) string {
	return fmt.Sprintf("usage:%s:%s:%s", userID, action, date)
}

// Get returns the cached count and whether it was present. Redis errors fail
// open as a miss.
func (c *CountCache) Get(ctx context.Context, userID string, action domain.UsageAction, date string) (int, bool) {
	if c == nil || c.rdb == nil {
		return 0, false
	}
	val, err := c.rdb.Get(ctx, cacheKey(userID, action, date)).Result()
	if err == redis.Nil {
		observability.UsageCountCacheHits.WithLabelValues("miss").Inc()
		return 0, false
	}
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("usage cache read failed",
			slog.String("user_id", userID), slog.Any("error", err))
		observability.UsageCountCacheHits.WithLabelValues("error").Inc()
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	observability.UsageCountCacheHits.WithLabelValues("hit").Inc()
	return n, true
}

// Set stores a count under the TTL tier matching its relation to the quota.
func (c *CountCache) Set(ctx context.Context, userID string, action domain.UsageAction, date string, count, quota int) {
	if c == nil || c.rdb == nil {
		return
	}
	ttl := c.ttls.UnderLimit
	switch {
	case count == 0:
		ttl = c.ttls.Negative
	case quota >= 0 && count >= quota:
		ttl = c.ttls.AtLimit
	}
	if err := c.rdb.Set(ctx, cacheKey(userID, action, date), count, ttl).Err(); err != nil {
		observability.LoggerFromContext(ctx).Warn("usage cache write failed",
			slog.String("user_id", userID), slog.Any("error", err))
	}
}

// Bump increments the cached count if present, keeping the cache ahead of the
// ledger so back-to-back requests observe their own writes.
func (c *CountCache) Bump(ctx context.Context, userID string, action domain.UsageAction, date string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.script.Run(ctx, c.rdb, []string{cacheKey(userID, action, date)}).Err(); err != nil && err != redis.Nil {
		observability.LoggerFromContext(ctx).Warn("usage cache bump failed",
			slog.String("user_id", userID), slog.Any("error", err))
	}
}
