package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is the in-process cache: bounded by entry count, with a per-entry
// TTL checked on read. It is the Community tier cache and the L1 of
// TwoPhaseCache.
type LRUCache struct {
	mu        sync.Mutex
	capacity  int
	entries   map[entryKey]*list.Element
	recency   *list.List // front is most recently used
	evictions uint64
	now       func() time.Time
}

type entryKey struct {
	tenantID string
	key      string
}

type entry struct {
	id        entryKey
	value     []byte
	expiresAt time.Time
}

// Stats is a point-in-time view of an LRUCache.
type Stats struct {
	Size      int
	Capacity  int
	Evictions uint64
}

// NewLRUCache creates a cache holding at most capacity entries (10000 when
// capacity <= 0).
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[entryKey]*list.Element),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Get returns the stored bytes, or nil on a miss or an expired entry.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[entryKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.drop(elem)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	return e.value, nil
}

// Set stores value for ttl, evicting the least recently used entries when
// the cache is full.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return errTenantRequired
	}

	id := entryKey{tenantID, key}
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[id] = c.recency.PushFront(&entry{id: id, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		c.evictions++
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[entryKey{tenantID, key}]; ok {
		c.drop(elem)
	}
	return nil
}

// GetScore returns a cached score or nil.
func (c *LRUCache) GetScore(ctx context.Context, tenantID string, key string) (*domain.Score, error) {
	return getScore(ctx, c, tenantID, key)
}

// SetScore caches score for ttl.
func (c *LRUCache) SetScore(ctx context.Context, tenantID string, key string, score *domain.Score, ttl time.Duration) error {
	return setScore(ctx, c, tenantID, key, score, ttl)
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[entryKey]*list.Element)
	c.recency.Init()
	return nil
}

// Stats reports size, capacity and evictions so far.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.recency.Len(),
		Capacity:  c.capacity,
		Evictions: c.evictions,
	}
}

func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*entry).id)
}
