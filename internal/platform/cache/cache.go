// Package cache holds the Dragonfly/Redis client and the planner features
// built on it: cross-instance learner locks and the XP leaderboard.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

// DefaultNamespace prefixes every key the planner writes.
const DefaultNamespace = "planner"

// Cache wraps a Redis/Dragonfly client.
type Cache struct {
	Client    *redis.Client
	namespace string
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, apperr.Invalid("cache.ParseURL", "cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperr.Invalid("cache.ParseURL", "invalid cache URL: %v", err)
	}
	return opts, nil
}

// New connects to the cache at url and pings it.
func New(ctx context.Context, url string) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperr.Wrap("cache.New", apperr.ErrStorage, err)
	}

	return &Cache{Client: client, namespace: DefaultNamespace}, nil
}

// Key joins parts under the cache namespace, e.g. "planner:lock:learner:l1".
func (c *Cache) Key(parts ...string) string {
	if c.namespace == "" {
		return strings.Join(parts, ":")
	}
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return apperr.Wrap("cache.HealthCheck", apperr.ErrStorage, err)
	}
	return nil
}
