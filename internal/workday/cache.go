package workday

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache stores date classifications with a TTL. Implementations must be safe
// for concurrent use.
type Cache interface {
	// Get returns the cached value for a date and whether it was present.
	Get(ctx context.Context, date string) (bool, bool, error)
	// Set stores the value for a date, expiring after ttl.
	Set(ctx context.Context, date string, isWorkday bool, ttl time.Duration) error
}

type memoryEntry struct {
	isWorkday bool
	expiresAt time.Time
}

type memoryCache struct {
	now func() time.Time
	mu  sync.Mutex
	m   map[string]memoryEntry
}

// NewMemoryCache builds the in-process cache. now is injectable for tests;
// nil means time.Now.
func NewMemoryCache(now func() time.Time) Cache {
	if now == nil {
		now = time.Now
	}
	return &memoryCache{now: now, m: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(ctx context.Context, date string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.m[date]
	if !ok {
		return false, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.m, date)
		return false, false, nil
	}
	return entry.isWorkday, true, nil
}

func (c *memoryCache) Set(ctx context.Context, date string, isWorkday bool, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[date] = memoryEntry{isWorkday: isWorkday, expiresAt: c.now().Add(ttl)}
	return nil
}

const redisKeyPrefix = "camrelay:workday:"

type redisCache struct {
	client redis.UniversalClient
}

// NewRedisCache shares classifications across relay replicas through Redis.
func NewRedisCache(client redis.UniversalClient) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, date string) (bool, bool, error) {
	val, err := c.client.Get(ctx, redisKeyPrefix+date).Result()
	if err != nil {
		if err == redis.Nil {
			return false, false, nil
		}
		return false, false, fmt.Errorf("redis get workday: %w", err)
	}
	return val == "1", true, nil
}

func (c *redisCache) Set(ctx context.Context, date string, isWorkday bool, ttl time.Duration) error {
	val := "0"
	if isWorkday {
		val = "1"
	}
	if err := c.client.Set(ctx, redisKeyPrefix+date, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set workday: %w", err)
	}
	return nil
}
