package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RedisCache stores entries in Redis. It is the Pro tier cache and the L2
// of TwoPhaseCache.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache connects to Redis. addr is either a redis:// URL, a single
// host:port, or a comma separated list of cluster nodes.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	opts, err := redisOptions(addr, password, db)
	if err != nil {
		return nil, err
	}
	return newRedisCache(redis.NewUniversalClient(opts))
}

func redisOptions(addr, password string, db int) (*redis.UniversalOptions, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts := &redis.UniversalOptions{
			Addrs:     []string{parsed.Addr},
			Username:  parsed.Username,
			Password:  parsed.Password,
			DB:        parsed.DB,
			TLSConfig: parsed.TLSConfig,
		}
		if password != "" {
			opts.Password = password
		}
		return opts, nil
	}

	var addrs []string
	for _, a := range strings.Split(addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return &redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
		DB:       db,
	}, nil
}

func newRedisCache(client redis.UniversalClient) (*RedisCache, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get returns the stored bytes, or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores value with a Redis expiry of ttl.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return errTenantRequired
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err()
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return errTenantRequired
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// GetScore returns a cached score or nil.
func (c *RedisCache) GetScore(ctx context.Context, tenantID string, key string) (*domain.Score, error) {
	return getScore(ctx, c, tenantID, key)
}

// SetScore caches score for ttl.
func (c *RedisCache) SetScore(ctx context.Context, tenantID string, key string, score *domain.Score, ttl time.Duration) error {
	return setScore(ctx, c, tenantID, key, score, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// redisKey namespaces key under the tenant. The tenant is a hash tag so a
// tenant's keys share a cluster slot.
func redisKey(tenantID, key string) string {
	return "kestrel:{" + tenantID + "}:" + key
}
