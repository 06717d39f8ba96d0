// Package cache provides a short-TTL cache for deployment lookups on the
// hot dispatch path. Supports a local in-memory backend and Redis for
// multi-instance deployments.
package cache

import (
	"context"
	"fmt"
	"time"

	"aibuilder/internal/storage"
)

// DefaultTTL bounds how stale a cached deployment may be. Dispatch
// correctness only needs the key and status checks to converge, so a few
// seconds of staleness is acceptable.
const DefaultTTL = 30 * time.Second

// Cache stores deployments (with their project) keyed by deployment id.
// Implementations must be safe for concurrent use. A miss is (nil, nil).
type Cache interface {
	Get(ctx context.Context, deploymentID string) (*storage.DeploymentWithProject, error)
	Set(ctx context.Context, d *storage.DeploymentWithProject) error

	// Delete invalidates a cached deployment. Called on every update or
	// stop so dispatch never serves a revoked key for longer than the TTL.
	Delete(ctx context.Context, deploymentID string) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Type is "local" or "redis".
	Type string
	// RedisURL is the connection URL for the redis backend.
	RedisURL string
	// TTL overrides DefaultTTL when positive.
	TTL time.Duration
}

// New creates a Cache based on the configuration.
func New(cfg Config) (Cache, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Type {
	case "local", "":
		return NewLocal(ttl), nil
	case "redis":
		return NewRedis(RedisConfig{URL: cfg.RedisURL, TTL: ttl})
	default:
		return nil, fmt.Errorf("unknown cache type: %s (valid: local, redis)", cfg.Type)
	}
}
