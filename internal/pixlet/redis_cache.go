package pixlet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.starlark.net/starlark"
	"tidbyt.dev/pixlet/runtime"

	"github.com/koios/inkboard/internal/config"
)

// RedisCache is a shared Redis connection; WithContext scopes it into a runtime.Cache
type RedisCache struct {
	client *redis.Client
}

var _ runtime.Cache = (*ContextualRedisCache)(nil)

// keyPrefix namespaces tile app cache entries in a shared Redis database
const keyPrefix = "inkboard:cache"

// ContextualRedisCache wraps RedisCache with app/tile context for key prefixing
type ContextualRedisCache struct {
	cache *RedisCache
	appID string
	tile  string
}

// NewRedisCache creates a new shared Redis cache instance
func NewRedisCache(cfg *config.RedisConfig) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisCache{
		client: rdb,
	}
}

// NewRedisCacheFromClient creates a new Redis cache instance from an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
	}
}

// WithContext creates a contextual cache wrapper with app/tile prefixing
func (r *RedisCache) WithContext(appID, tile string) *ContextualRedisCache {
	return &ContextualRedisCache{
		cache: r,
		appID: appID,
		tile:  tile,
	}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping tests the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// buildKey creates a scoped cache key with app/tile context
func (c *ContextualRedisCache) buildKey(key string) string {
	// Clean key to remove any potential path separators for security
	cleanKey := strings.ReplaceAll(key, "/", "_")
	return fmt.Sprintf("%s/%s/%s/%s", keyPrefix, c.appID, c.tile, cleanKey)
}

// threadContext returns the context a starlark thread carries, if any
func threadContext(thread *starlark.Thread) context.Context {
	if thread != nil {
		if threadCtx, ok := thread.Local("context").(context.Context); ok {
			return threadCtx
		}
	}
	return context.Background()
}

// Get retrieves a value from the Redis cache
func (c *ContextualRedisCache) Get(thread *starlark.Thread, key string) ([]byte, bool, error) {
	ctx := threadContext(thread)

	cacheKey := c.buildKey(key)

	result, err := c.cache.client.Get(ctx, cacheKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Key doesn't exist
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get key %s from Redis: %w", cacheKey, err)
	}

	return []byte(result), true, nil
}

// Set stores a value in the Redis cache with the specified TTL
func (c *ContextualRedisCache) Set(thread *starlark.Thread, key string, value []byte, ttl int64) error {
	ctx := threadContext(thread)

	cacheKey := c.buildKey(key)
	expiration := time.Duration(ttl) * time.Second

	err := c.cache.client.Set(ctx, cacheKey, value, expiration).Err()
	if err != nil {
		return fmt.Errorf("failed to set key %s in Redis: %w", cacheKey, err)
	}

	return nil
}

// FlushApp removes all cache entries for the current app and tile
func (c *ContextualRedisCache) FlushApp(ctx context.Context) error {
	return c.cache.deletePattern(ctx, fmt.Sprintf("%s/%s/%s/*", keyPrefix, c.appID, c.tile))
}

// FlushTile removes all cache entries for the current tile (across all apps)
func (c *ContextualRedisCache) FlushTile(ctx context.Context) error {
	return c.cache.deletePattern(ctx, fmt.Sprintf("%s/*/%s/*", keyPrefix, c.tile))
}

// Stats returns the number of cache entries for the current app and tile
func (c *ContextualRedisCache) Stats(ctx context.Context) (int64, error) {
	keys, err := c.cache.scan(ctx, fmt.Sprintf("%s/%s/%s/*", keyPrefix, c.appID, c.tile))
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (r *RedisCache) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan for keys with pattern %s: %w", pattern, err)
	}
	return keys, nil
}

func (r *RedisCache) deletePattern(ctx context.Context, pattern string) error {
	keys, err := r.scan(ctx, pattern)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}
