// Package cache provides a TTL response cache with Redis and in-memory
// backends. Values are JSON-serialized, a TTL of zero means no expiry.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by loaders to signal an uncacheable miss.
var ErrNotFound = errors.New("cache: key not found")

// Loader computes a value on cache miss for GetOrSet.
type Loader func(ctx context.Context) (any, error)

// Cache is the response cache interface shared by all backends.
type Cache interface {
	// Get unmarshals the cached value for key into out.
	// Returns false when the key is absent or expired.
	Get(ctx context.Context, key string, out any) (bool, error)

	// Set stores value under key. ttl == 0 means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// GetOrSet returns the cached value for key, or invokes loader,
	// caches its result, and unmarshals it into out.
	GetOrSet(ctx context.Context, key string, out any, ttl time.Duration, loader Loader) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Clear removes all keys matching the glob pattern and returns the
	// number of keys removed.
	Clear(ctx context.Context, pattern string) (int, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Increment atomically adds delta to the integer stored at key and
	// returns the new value. Absent keys start at zero.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
}
