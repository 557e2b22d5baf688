package cache

import (
	"context"
	"sync"
	"time"
)

// CacheItem represents a cached item with expiration
type CacheItem[V any] struct {
	Value     V
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (item *CacheItem[V]) expired(now time.Time) bool {
	return now.After(item.ExpiresAt)
}

// Cache is a thread-safe in-memory cache with TTL support
type Cache[V any] struct {
	items           map[string]*CacheItem[V]
	mu              sync.RWMutex
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewCache creates a new cache with default TTL
func NewCache[V any](defaultTTL time.Duration) *Cache[V] {
	c := &Cache[V]{
		items:           make(map[string]*CacheItem[V]),
		defaultTTL:      defaultTTL,
		cleanupInterval: defaultTTL / 2,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}
	if c.cleanupInterval <= 0 {
		c.cleanupInterval = time.Minute
	}

	go c.cleanup()

	return c
}

// Get retrieves a value from cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	item, exists := c.items[key]
	if !exists || item.expired(c.now()) {
		return zero, false
	}
	return item.Value, true
}

// Set stores a value in cache with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[key] = &CacheItem[V]{
		Value:     value,
		ExpiresAt: now.Add(c.defaultTTL),
		CreatedAt: now,
	}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	c.Set(key, value)
	return value, nil
}

// purgeExpired drops every expired item.
func (c *Cache[V]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
		}
	}
}

func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}
