// Package cache keeps derived relationship data in Redis. Every entry can be
// rebuilt from the relational store, so a nil cache or a Redis error only
// costs a database round trip.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/microblog/pkg/logger"
)

// FollowCounts is the number of accounts one account follows and is followed by.
type FollowCounts struct {
	Following int64 `json:"following"`
	Followers int64 `json:"followers"`
}

// CountCache stores FollowCounts per account in a Redis hash.
type CountCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCountCache returns nil when client is nil; all methods accept a nil receiver.
func NewCountCache(client *redis.Client, ttl time.Duration) *CountCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CountCache{client: client, ttl: ttl}
}

func countsKey(accountID string) string { return fmt.Sprintf("follow:counts:%s", accountID) }

func (c *CountCache) Get(ctx context.Context, accountID string) (FollowCounts, bool) {
	if c == nil {
		return FollowCounts{}, false
	}
	vals, err := c.client.HMGet(ctx, countsKey(accountID), "following", "followers").Result()
	if err != nil || len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		if err != nil {
			logger.Debug("count cache read failed", zap.String("account_id", accountID), zap.Error(err))
		}
		c.misses.Add(1)
		return FollowCounts{}, false
	}
	following, err1 := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	followers, err2 := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err1 != nil || err2 != nil {
		c.misses.Add(1)
		return FollowCounts{}, false
	}
	c.hits.Add(1)
	return FollowCounts{Following: following, Followers: followers}, true
}

func (c *CountCache) Set(ctx context.Context, accountID string, counts FollowCounts) {
	if c == nil {
		return
	}
	key := countsKey(accountID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, "following", counts.Following, "followers", counts.Followers)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("count cache write failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

// Invalidate drops the cached counts of every given account.
func (c *CountCache) Invalidate(ctx context.Context, accountIDs ...string) {
	if c == nil || len(accountIDs) == 0 {
		return
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = countsKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("count cache invalidate failed", zap.Strings("account_ids", accountIDs), zap.Error(err))
	}
}

// Stats returns hit and miss counters since start.
func (c *CountCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}
