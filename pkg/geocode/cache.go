package geocode

import (
	"container/list"
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Cache stores serialized geocode results by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// forwardKey returns the cache key for a free-text address. Case and
// whitespace differences map to the same key.
func forwardKey(address string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(address)), " ")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("geocode:fwd:%x", h)
}

// reverseKey quantizes the coordinate to 0.001 degrees.
func reverseKey(lat, lon float64) string {
	return fmt.Sprintf("geocode:rev:%.3f:%.3f", lat, lon)
}

// MemoryCache is an in-process LRU cache with a per-entry TTL.
type MemoryCache struct {
	mu    sync.Mutex
	cap   int
	lst   *list.List
	items map[string]*list.Element
	now   func() time.Time
}

type memoryEntry struct {
	key     string
	value   string
	expires time.Time
}

// NewMemoryCache creates a MemoryCache holding at most capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryCache{
		cap:   capacity,
		lst:   list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return "", false, nil
	}
	it := e.Value.(memoryEntry)
	if !it.expires.IsZero() && !c.now().Before(it.expires) {
		c.lst.Remove(e)
		delete(c.items, key)
		return "", false, nil
	}
	c.lst.MoveToFront(e)
	return it.value, true, nil
}

// Set implements Cache. A zero ttl never expires.
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	it := memoryEntry{key: key, value: value, expires: expires}

	if e, ok := c.items[key]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return nil
	}
	c.items[key] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.items, back.Value.(memoryEntry).key)
		c.lst.Remove(back)
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}

// redisCmdable is the subset of *redis.Client used by RedisCache.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache stores results in Redis so they survive restarts and are shared
// between processes.
type RedisCache struct {
	rc redisCmdable
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(rc redisCmdable) *RedisCache {
	return &RedisCache{rc: rc}
}

// OpenRedis connects to addr and returns a RedisCache.
func OpenRedis(addr, password string) *RedisCache {
	return NewRedisCache(redis.NewClient(&redis.Options{Addr: addr, Password: password}))
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	s, err := c.rc.Get(ctx, key).Result()
	if eris.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "geocode: redis get")
	}
	return s, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rc.Set(ctx, key, value, ttl).Err(); err != nil {
		return eris.Wrap(err, "geocode: redis set")
	}
	return nil
}
