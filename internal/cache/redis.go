package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"aibuilder/internal/storage"
)

// redisKeyPrefix namespaces deployment entries in a shared Redis instance.
const redisKeyPrefix = "aibuilder:deployment:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g. "redis://localhost:6379").
	URL string
	// TTL is the time-to-live for cached deployments.
	TTL time.Duration
}

// RedisCache implements Cache on Redis for multi-instance deployments
// behind a load balancer.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	slog.Info("redis cache connected", "ttl", ttl)

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get retrieves a cached deployment from Redis.
func (c *RedisCache) Get(ctx context.Context, deploymentID string) (*storage.DeploymentWithProject, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+deploymentID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deployment from redis: %w", err)
	}

	var d storage.DeploymentWithProject
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse cached deployment: %w", err)
	}
	return &d, nil
}

// Set stores a deployment in Redis with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, d *storage.DeploymentWithProject) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+d.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set deployment in redis: %w", err)
	}
	return nil
}

// Delete removes a deployment entry.
func (c *RedisCache) Delete(ctx context.Context, deploymentID string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+deploymentID).Err(); err != nil {
		return fmt.Errorf("failed to delete deployment from redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
