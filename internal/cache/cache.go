// Package cache provides score caching implementations for Kestrel.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var errTenantRequired = errors.New("tenantID is required")

// New creates the configured cache: "memory" (LRU), "redis" (Redis, or LRU
// in front of Redis when EnableTwoPhase is set) or "none".
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "none":
		return NopCache{}, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// ScoreKey derives the cache key for a raw message scored with the given
// normalizer version. Identical bytes under the same parameters always
// produce the same verdict.
func ScoreKey(raw []byte, normalizerVersion string) string {
	sum := sha256.Sum256(raw)
	return "score:" + hex.EncodeToString(sum[:]) + ":" + normalizerVersion
}

// byteStore is the raw key/value surface shared by every backend.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func getScore(ctx context.Context, s byteStore, tenantID, key string) (*domain.Score, error) {
	data, err := s.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil, err
	}

	var score domain.Score
	if err := json.Unmarshal(data, &score); err != nil {
		return nil, err
	}
	return &score, nil
}

func setScore(ctx context.Context, s byteStore, tenantID, key string, score *domain.Score, ttl time.Duration) error {
	data, err := json.Marshal(score)
	if err != nil {
		return err
	}
	return s.Set(ctx, tenantID, key, data, ttl)
}

// TwoPhaseCache reads through a local LRU (L1) to a shared cache (L2),
// normally Redis. Writes go to both; L1 entries never outlive L2.
type TwoPhaseCache struct {
	local  *LRUCache
	remote domain.Cache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates an LRU in front of Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote domain.Cache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get checks L1, then L2, copying L2 hits into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both layers.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1TTL); err != nil {
		return err
	}

	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetScore returns a cached score or nil.
func (c *TwoPhaseCache) GetScore(ctx context.Context, tenantID string, key string) (*domain.Score, error) {
	return getScore(ctx, c, tenantID, key)
}

// SetScore caches score in both layers.
func (c *TwoPhaseCache) SetScore(ctx context.Context, tenantID string, key string, score *domain.Score, ttl time.Duration) error {
	return setScore(ctx, c, tenantID, key, score, ttl)
}

// Ping checks both layers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports on the L1 layer.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}

// NopCache never stores anything. Every lookup is a miss.
type NopCache struct{}

func (NopCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	return nil, nil
}

func (NopCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (NopCache) Delete(ctx context.Context, tenantID string, key string) error {
	return nil
}

func (NopCache) GetScore(ctx context.Context, tenantID string, key string) (*domain.Score, error) {
	return nil, nil
}

func (NopCache) SetScore(ctx context.Context, tenantID string, key string, score *domain.Score, ttl time.Duration) error {
	return nil
}

func (NopCache) Ping(ctx context.Context) error { return nil }

func (NopCache) Close() error { return nil }
