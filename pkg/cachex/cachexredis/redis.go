// Package cachexredis implementa cachex.Cache sobre Redis.
package cachexredis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Abraxas-365/bastion/pkg/cachex"
	"github.com/redis/go-redis/v9"
)

// RedisCache is the Redis-backed implementation of cachex.Cache.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a cache backed by the given Redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements cachex.Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", cachex.ErrMiss
		}
		return "", wrapUnavailable(err)
	}
	return val, nil
}

// Set implements cachex.Cache.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Delete implements cachex.Cache.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Increment implements cachex.Cache.
func (c *RedisCache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	// TTL applies only on counter creation so the window is stable.
	if count == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, wrapUnavailable(err)
		}
	}
	return count, nil
}

// SortedAdd implements cachex.Cache.
func (c *RedisCache) SortedAdd(ctx context.Context, key string, score float64, member string) error {
	if err := c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// SortedRemoveRangeByScore implements cachex.Cache.
func (c *RedisCache) SortedRemoveRangeByScore(ctx context.Context, key string, min, max float64) error {
	minArg := strconv.FormatFloat(min, 'f', -1, 64)
	maxArg := strconv.FormatFloat(max, 'f', -1, 64)
	if err := c.client.ZRemRangeByScore(ctx, key, minArg, maxArg).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// SortedCount implements cachex.Cache.
func (c *RedisCache) SortedCount(ctx context.Context, key string) (int64, error) {
	count, err := c.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	return count, nil
}

// Expire implements cachex.Cache.
func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func wrapUnavailable(err error) error {
	return errors.Join(cachex.ErrUnavailable, err)
}
