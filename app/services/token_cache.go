package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/amirphl/Susanoo/utils"
	"github.com/redis/go-redis/v9"
)

// TokenCache stores short lived OAuth access tokens and guards refreshes across instances
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// TryLock returns ok=false when another holder owns the lock
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type redisTokenCache struct {
	rc     *redis.Client
	prefix string
}

// NewRedisTokenCache creates a redis backed token cache
func NewRedisTokenCache(rc *redis.Client, prefix string) TokenCache {
	return &redisTokenCache{rc: rc, prefix: prefix}
}

func (c *redisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rc.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *redisTokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rc.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *redisTokenCache) Delete(ctx context.Context, key string) error {
	return c.rc.Del(ctx, c.prefix+key).Err()
}

func (c *redisTokenCache) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := c.prefix + "lock:" + key
	ok, err := c.rc.SetNX(ctx, lockKey, "1", ttl).Result()
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		_ = c.rc.Del(context.Background(), lockKey).Err()
	}, true, nil
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]time.Time
}

// NewMemoryTokenCache creates a process local token cache used when redis is disabled
func NewMemoryTokenCache() TokenCache {
	return &memoryTokenCache{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]time.Time),
	}
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if utils.IsExpired(e.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *memoryTokenCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: utils.UTCNowAdd(ttl)}
	return nil
}

func (c *memoryTokenCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryTokenCache) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, held := c.locks[key]; held && !utils.IsExpired(until) {
		return func() {}, false, nil
	}
	c.locks[key] = utils.UTCNowAdd(ttl)
	return func() {
		c.mu.Lock()
		delete(c.locks, key)
		c.mu.Unlock()
	}, true, nil
}
