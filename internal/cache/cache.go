package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrCacheMiss = errors.New("cache miss")
)

// DirectoryCache provides two-level caching for region and city name lookups.
// Reference data changes only through seeding, so entries live for a long TTL.
type DirectoryCache struct {
	redis  *redis.Client
	local  *LocalCache
	logger *logrus.Logger

	ttl            time.Duration
	localCacheSize int

	mu     sync.RWMutex
	hits   int64
	misses int64
	errors int64
}

// CacheConfig holds configuration for the directory cache
type CacheConfig struct {
	RedisClient    *redis.Client
	Logger         *logrus.Logger
	TTL            time.Duration // Entry TTL (default: 1 hour)
	LocalCacheSize int           // Max items in local cache (default: 1000)
}

// LocalCache provides in-memory caching with FIFO eviction
type LocalCache struct {
	mu      sync.RWMutex
	items   map[string]*localCacheItem
	maxSize int
	order   []string
}

type localCacheItem struct {
	Value     string
	ExpiresAt time.Time
}

// NewDirectoryCache creates a new directory cache. A nil redis client keeps
// the cache process-local.
func NewDirectoryCache(config CacheConfig) *DirectoryCache {
	if config.TTL == 0 {
		config.TTL = time.Hour
	}
	if config.LocalCacheSize == 0 {
		config.LocalCacheSize = 1000
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &DirectoryCache{
		redis:          config.RedisClient,
		logger:         config.Logger,
		ttl:            config.TTL,
		localCacheSize: config.LocalCacheSize,
		local: &LocalCache{
			items:   make(map[string]*localCacheItem),
			maxSize: config.LocalCacheSize,
			order:   make([]string, 0, config.LocalCacheSize),
		},
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegionKey builds the key for a region name lookup
func RegionKey(name string) string {
	return fmt.Sprintf("directory:region:%s", normalize(name))
}

// CityKey builds the key for a city name lookup within a region
func CityKey(name string, regionID uuid.UUID) string {
	return fmt.Sprintf("directory:city:%s:%s", regionID, normalize(name))
}

// GetID retrieves a cached identifier
func (c *DirectoryCache) GetID(ctx context.Context, key string) (uuid.UUID, error) {
	if value, ok := c.getLocal(key); ok {
		if id, err := uuid.Parse(value); err == nil {
			c.recordHit()
			return id, nil
		}
	}

	if c.redis != nil {
		value, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			if id, err := uuid.Parse(value); err == nil {
				c.setLocal(key, value)
				c.recordHit()
				return id, nil
			}
		} else if err != redis.Nil {
			c.recordError()
			c.logger.WithError(err).Debug("Failed to read directory entry from Redis")
		}
	}

	c.recordMiss()
	return uuid.Nil, ErrCacheMiss
}

// SetID caches an identifier
func (c *DirectoryCache) SetID(ctx context.Context, key string, id uuid.UUID) {
	value := id.String()
	c.setLocal(key, value)

	if c.redis != nil {
		if err := c.redis.Set(ctx, key, value, c.ttl).Err(); err != nil {
			c.recordError()
			c.logger.WithError(err).Warn("Failed to set directory entry in Redis")
		}
	}
}

// Invalidate drops every directory entry, used after reseeding
func (c *DirectoryCache) Invalidate(ctx context.Context) error {
	c.local.mu.Lock()
	c.local.items = make(map[string]*localCacheItem)
	c.local.order = c.local.order[:0]
	c.local.mu.Unlock()

	if c.redis == nil {
		return nil
	}

	iter := c.redis.Scan(ctx, 0, "directory:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.redis.Del(ctx, keys...).Err()
	}
	return nil
}

func (c *DirectoryCache) getLocal(key string) (string, bool) {
	c.local.mu.RLock()
	defer c.local.mu.RUnlock()

	item, exists := c.local.items[key]
	if !exists || time.Now().After(item.ExpiresAt) {
		return "", false
	}
	return item.Value, true
}

func (c *DirectoryCache) setLocal(key, value string) {
	c.local.mu.Lock()
	defer c.local.mu.Unlock()

	if _, exists := c.local.items[key]; !exists {
		if len(c.local.items) >= c.local.maxSize && len(c.local.order) > 0 {
			oldest := c.local.order[0]
			delete(c.local.items, oldest)
			c.local.order = c.local.order[1:]
		}
		c.local.order = append(c.local.order, key)
	}

	c.local.items[key] = &localCacheItem{
		Value:     value,
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

func (c *DirectoryCache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *DirectoryCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *DirectoryCache) recordError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// GetStats returns cache statistics
func (c *DirectoryCache) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.local.mu.RLock()
	localSize := len(c.local.items)
	c.local.mu.RUnlock()

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return map[string]interface{}{
		"hits":          c.hits,
		"misses":        c.misses,
		"errors":        c.errors,
		"hit_rate":      hitRate,
		"local_size":    localSize,
		"local_max":     c.localCacheSize,
		"redis_enabled": c.redis != nil,
	}
}
