package dataset

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores raw dataset payloads between sessions. Sessions re-fetch by
// default; a cache only changes how often the network is hit.
type Cache interface {
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Set(ctx context.Context, name string, payload []byte) error
}

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// MemoryCache is a process-local Cache with a fixed TTL.
type MemoryCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates a MemoryCache. A zero ttl never expires entries.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

// Get returns a cached payload.
func (c *MemoryCache) Get(_ context.Context, name string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, name)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.payload, true, nil
}

// Set stores a payload.
func (c *MemoryCache) Set(_ context.Context, name string, payload []byte) error {
	e := memoryEntry{payload: payload}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()
	return nil
}

// RedisCache shares dataset payloads across server instances.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps a go-redis client. Keys are "<prefix><dataset>".
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "citymap:dataset:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// OpenRedisCache connects to addr and returns a cache, or nil if addr is empty.
func OpenRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	if addr == "" {
		return nil
	}
	return NewRedisCache(redis.NewClient(&redis.Options{Addr: addr, Password: password}), "", ttl)
}

// Get returns a cached payload.
func (c *RedisCache) Get(ctx context.Context, name string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores a payload with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, name string, payload []byte) error {
	return c.client.Set(ctx, c.prefix+name, payload, c.ttl).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
