package tokeninfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved token info. Get returns (nil, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, mint string) (*Info, error)
	Set(ctx context.Context, mint string, info *Info) error
}

// RedisCache provides Redis-based caching for token info.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to the Redis instance at url (redis://...) and
// verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) key(mint string) string {
	return "tokeninfo:" + mint
}

// Get returns the cached info for mint, or nil when missing.
func (c *RedisCache) Get(ctx context.Context, mint string) (*Info, error) {
	v, err := c.client.Get(ctx, c.key(mint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(v, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Set stores info with TTL.
func (c *RedisCache) Set(ctx context.Context, mint string, info *Info) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(mint), b, c.ttl).Err()
}

// Invalidate removes cached info for mint.
func (c *RedisCache) Invalidate(ctx context.Context, mint string) error {
	return c.client.Del(ctx, c.key(mint)).Err()
}
