package chat

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CountCache caches per-user unread counts. Implementations must treat a miss
// as "recompute", never as zero; cached values are a performance optimization
// and are bounded by the TTL the owning tracker was constructed with.
type CountCache interface {
	Get(ctx context.Context, userID uint) (int64, bool)
	Set(ctx context.Context, userID uint, count int64, ttl time.Duration)
	Delete(ctx context.Context, userID uint)
}

// RedisCountCache stores counts in Redis so that all server instances share
// one cache and invalidation from any instance is visible everywhere.
type RedisCountCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCountCache(client *redis.Client) *RedisCountCache {
	return &RedisCountCache{client: client, prefix: "unread:"}
}

func (c *RedisCountCache) key(userID uint) string {
	return c.prefix + strconv.FormatUint(uint64(userID), 10)
}

func (c *RedisCountCache) Get(ctx context.Context, userID uint) (int64, bool) {
	val, err := c.client.Get(ctx, c.key(userID)).Int64()
	if err != nil {
		return 0, false
	}
	return val, true
}

func (c *RedisCountCache) Set(ctx context.Context, userID uint, count int64, ttl time.Duration) {
	c.client.Set(ctx, c.key(userID), count, ttl)
}

func (c *RedisCountCache) Delete(ctx context.Context, userID uint) {
	c.client.Del(ctx, c.key(userID))
}

// MemoryCountCache is a process-local fallback used when Redis is not
// configured, and in tests.
type MemoryCountCache struct {
	mu      sync.Mutex
	entries map[uint]memoryCountEntry
}

type memoryCountEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCountCache() *MemoryCountCache {
	return &MemoryCountCache{entries: make(map[uint]memoryCountEntry)}
}

func (c *MemoryCountCache) Get(_ context.Context, userID uint) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, userID)
		return 0, false
	}
	return entry.count, true
}

func (c *MemoryCountCache) Set(_ context.Context, userID uint, count int64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = memoryCountEntry{count: count, expiresAt: time.Now().Add(ttl)}
}

func (c *MemoryCountCache) Delete(_ context.Context, userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
