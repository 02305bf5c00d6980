package domain

import (
	"context"
	"time"
)

// Cache is a tenant-scoped key/value store with expiry. Kestrel uses it to
// reuse scores for byte-identical resubmissions.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string, key string) error

	// GetScore returns nil, nil on a miss.
	GetScore(ctx context.Context, tenantID string, key string) (*Score, error)
	SetScore(ctx context.Context, tenantID string, key string, score *Score, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache.
type CacheConfig struct {
	// Type is "memory", "redis" or "none"
	Type string

	// In-process LRU, also the L1 of the two-phase cache
	LocalMaxSize int
	LocalTTL     time.Duration

	// RedisAddr is host:port, a redis:// URL or a comma separated cluster
	// node list.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase puts the LRU in front of Redis
	EnableTwoPhase bool

	// ScoreTTL is how long a scoring result stays reusable
	ScoreTTL time.Duration
}
