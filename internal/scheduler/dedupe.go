package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper suppresses repeat alerts: Once returns true only for the first
// caller of a key within the ttl window.
type Deduper interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisDeduper dedupes across instances with SETNX and a TTL.
type RedisDeduper struct {
	client *redis.Client
	prefix string
}

// NewRedisDeduper creates a dedupe window backed by redis.
func NewRedisDeduper(client *redis.Client, prefix string) *RedisDeduper {
	if prefix == "" {
		prefix = "carbonplane:alert:"
	}

	return &RedisDeduper{client: client, prefix: prefix}
}

// Once claims the key; only the claimer sees true.
func (d *RedisDeduper) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, 1, ttl).Result()
}

// MemoryDeduper is the single-instance fallback when redis is not
// configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDeduper creates an in-process dedupe window.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: map[string]time.Time{}, now: time.Now}
}

// Once claims the key until its ttl expires.
func (d *MemoryDeduper) Once(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if expiry, ok := d.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}

	d.seen[key] = now.Add(ttl)

	return true, nil
}
