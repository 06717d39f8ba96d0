package cache

import (
	"context"
	"sync"
	"time"

	"aibuilder/internal/storage"
)

type localEntry struct {
	deployment *storage.DeploymentWithProject
	expiresAt  time.Time
}

// LocalCache implements Cache with an in-memory map. Suitable for
// single-instance deployments; entries expire lazily on read.
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	ttl     time.Duration

	// now is swapped out by tests to control expiry.
	now func() time.Time
}

// NewLocal creates an in-memory cache with the given TTL.
func NewLocal(ttl time.Duration) *LocalCache {
	return &LocalCache{
		entries: make(map[string]localEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached deployment, or nil on a miss or expired entry.
func (c *LocalCache) Get(_ context.Context, deploymentID string) (*storage.DeploymentWithProject, error) {
	c.mu.RLock()
	entry, ok := c.entries[deploymentID]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, deploymentID)
		c.mu.Unlock()
		return nil, nil
	}
	return entry.deployment, nil
}

// Set stores the deployment with the configured TTL.
func (c *LocalCache) Set(_ context.Context, d *storage.DeploymentWithProject) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.ID] = localEntry{
		deployment: d,
		expiresAt:  c.now().Add(c.ttl),
	}
	return nil
}

// Delete removes the entry if present.
func (c *LocalCache) Delete(_ context.Context, deploymentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deploymentID)
	return nil
}

// Close is a no-op for the local cache.
func (c *LocalCache) Close() error {
	return nil
}
