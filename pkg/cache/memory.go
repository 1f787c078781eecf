package cache

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/kart-io/chatbase/pkg/utils/json"
)

// MemoryCache is an in-process Cache for single-node deployments and tests.
// Entries are stored serialized so hits and misses round-trip values the
// same way the Redis backend does.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	stopOnce sync.Once
	stop     chan struct{}
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an in-memory cache. A background sweeper evicts
// expired entries every cleanupInterval; zero disables sweeping and expired
// entries are evicted lazily on access.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.sweep(cleanupInterval)
	}

	return c
}

// Stop terminates the background sweeper.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *MemoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.entries {
				if entry.expired(now) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Get unmarshals the cached value for key into out.
func (c *MemoryCache) Get(_ context.Context, key string, out any) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if entry.expired(time.Now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(entry.data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key. ttl == 0 means no expiry.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// GetOrSet returns the cached value for key, or invokes loader and caches
// its result.
func (c *MemoryCache) GetOrSet(ctx context.Context, key string, out any, ttl time.Duration, loader Loader) error {
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

	if err := c.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	return remarshal(value, out)
}

// Delete removes the given keys.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Clear removes all keys matching the glob pattern.
func (c *MemoryCache) Clear(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for key := range c.entries {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return deleted, err
		}
		if matched {
			delete(c.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

// Exists reports whether key is present and unexpired.
func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

// Increment atomically adds delta to the integer stored at key. The counter
// is stored as a decimal string, mirroring Redis INCRBY semantics.
func (c *MemoryCache) Increment(_ context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current int64
	entry, ok := c.entries[key]
	if ok && !entry.expired(time.Now()) {
		parsed, err := strconv.ParseInt(string(entry.data), 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}

	current += delta
	c.entries[key] = memoryEntry{
		data:      []byte(strconv.FormatInt(current, 10)),
		expiresAt: entry.expiresAt,
	}
	return current, nil
}

// Len returns the number of entries including expired but unswept ones.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
