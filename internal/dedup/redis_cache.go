package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps the last sends per destination in a capped Redis list
// with a TTL matching the lookback window.
type RedisCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	maxRecent int
}

// NewRedisCache creates a redis-backed recent-sends cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration, maxRecent int) *RedisCache {
	if maxRecent <= 0 {
		maxRecent = 20
	}
	return &RedisCache{rdb: rdb, ttl: ttl, maxRecent: maxRecent}
}

func recentKey(destinationID string) string {
	return fmt.Sprintf("dedup:recent:%s", destinationID)
}

// Remember pushes the send onto the destination's list, trims it to the cap
// and refreshes the TTL.
func (c *RedisCache) Remember(ctx context.Context, destinationID string, send RecentSend) error {
	b, err := json.Marshal(send)
	if err != nil {
		return fmt.Errorf("marshal recent send: %w", err)
	}

	key := recentKey(destinationID)
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, int64(c.maxRecent-1))
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store recent send: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent sends, newest first.
func (c *RedisCache) Recent(ctx context.Context, destinationID string, limit int) ([]RecentSend, error) {
	if limit <= 0 || limit > c.maxRecent {
		limit = c.maxRecent
	}

	vals, err := c.rdb.LRange(ctx, recentKey(destinationID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent sends: %w", err)
	}

	sends := make([]RecentSend, 0, len(vals))
	for _, v := range vals {
		var s RecentSend
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			// Skip entries written by an incompatible version.
			continue
		}
		sends = append(sends, s)
	}
	return sends, nil
}
