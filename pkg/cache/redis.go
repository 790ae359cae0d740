package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

// RedisCache is a ResultCache backed by Redis, for deployments where
// several API replicas should share one short-lived result cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisCacheFromURL dials Redis from a redis:// URL.
func NewRedisCacheFromURL(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Get returns the cached result for key, if present.
func (c *RedisCache) Get(ctx context.Context, key string) (*validation.Result, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var res validation.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, false, fmt.Errorf("cache: decode cached result: %w", err)
	}
	return &res, true, nil
}

// Set stores res under key for ttl. Redis handles expiry server-side.
func (c *RedisCache) Set(ctx context.Context, key string, res *validation.Result, ttl time.Duration) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
