package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/chatbase/pkg/utils/json"
)

// RedisCache is a Cache backed by Redis. Backend failures on reads degrade
// to cache misses so an unavailable Redis never takes the service down with
// it; failures are logged at warn level.
type RedisCache struct {
	client *goredis.Client
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a Redis-backed cache. All keys are stored under the
// given prefix.
func NewRedisCache(client *goredis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

// Get unmarshals the cached value for key into out.
func (c *RedisCache) Get(ctx context.Context, key string, out any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		logger.Warnw("cache get failed, treating as miss", "key", key, "error", err.Error())
		return false, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		// Drop entries that no longer unmarshal, the schema likely changed.
		_ = c.client.Del(ctx, c.key(key)).Err()
		logger.Warnw("corrupt cache entry dropped", "key", key, "error", err.Error())
		return false, nil
	}

	return true, nil
}

// Set stores value under key. ttl == 0 means no expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		logger.Warnw("cache set failed", "key", key, "error", err.Error())
		return err
	}
	return nil
}

// GetOrSet returns the cached value for key, or invokes loader and caches
// its result.
func (c *RedisCache) GetOrSet(ctx context.Context, key string, out any, ttl time.Duration, loader Loader) error {
	hit, err := c.Get(ctx, key, out)
	if err != nil {
		return err
	}
	if hit {
		return nil
	}

	value, err := loader(ctx)
	if err != nil {
		return err
	}

	// Best effort, the loaded value is still returned on cache write failure.
	if err := c.Set(ctx, key, value, ttl); err != nil {
		logger.Warnw("cache fill failed", "key", key, "error", err.Error())
	}

	return remarshal(value, out)
}

// Delete removes the given keys.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// Clear removes all keys matching the glob pattern using SCAN, so large
// keyspaces are walked without blocking Redis.
func (c *RedisCache) Clear(ctx context.Context, pattern string) (int, error) {
	iter := c.client.Scan(ctx, 0, c.key(pattern), 0).Iterator()

	deleted := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "key", iter.Val(), "error", err.Error())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}

	return deleted, nil
}

// Exists reports whether key is present.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		logger.Warnw("cache exists check failed", "key", key, "error", err.Error())
		return false, nil
	}
	return n > 0, nil
}

// Increment atomically adds delta to the integer stored at key.
func (c *RedisCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.client.IncrBy(ctx, c.key(key), delta).Result()
}

// remarshal copies value into out through JSON, so GetOrSet callers see the
// same shape on a miss as they would on a later hit.
func remarshal(value, out any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
