package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/memauthz/pkg/authz"
)

// MemoryCache is a process-local authz.Cache backed by expiring LRUs.
// Cached slices are shared between callers and must not be modified.
// Every invalidation bumps a single version; writes carrying an older
// version are dropped.
type MemoryCache struct {
	expansions   *lru.LRU[string, []authz.Role]
	aggregations *lru.LRU[uuid.UUID, *authz.Aggregation]
	recorder     MetricsRecorder

	mu      sync.Mutex
	version int64

	hits   atomic.Int64
	misses atomic.Int64
}

var _ authz.Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a memory cache. A nil recorder disables metrics.
func NewMemoryCache(cfg Config, recorder MetricsRecorder) *MemoryCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &MemoryCache{
		expansions:   lru.NewLRU[string, []authz.Role](cfg.MaxEntries, nil, cfg.TTL),
		aggregations: lru.NewLRU[uuid.UUID, *authz.Aggregation](cfg.MaxEntries, nil, cfg.TTL),
		recorder:     recorder,
	}
}

func (c *MemoryCache) record(keyType string, hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.recorder.RecordCacheLookup(BackendMemory, keyType, hit)
}

// Version implements authz.Cache
func (c *MemoryCache) Version(context.Context, uuid.UUID) (authz.CacheVersion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return authz.CacheVersion{Global: c.version}, nil
}

// current reports whether ver is still the latest version. c.mu must be held.
func (c *MemoryCache) current(ver authz.CacheVersion) bool {
	return ver.Global == c.version
}

// GetExpansion implements authz.Cache
func (c *MemoryCache) GetExpansion(_ context.Context, dir authz.InheritanceDirection, roleID uuid.UUID) ([]authz.Role, bool) {
	roles, ok := c.expansions.Get(expansionKey(dir, roleID))
	c.record(keyExpansion, ok)
	return roles, ok
}

// SetExpansion implements authz.Cache
func (c *MemoryCache) SetExpansion(_ context.Context, ver authz.CacheVersion, dir authz.InheritanceDirection, roleID uuid.UUID, roles []authz.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current(ver) {
		c.expansions.Add(expansionKey(dir, roleID), roles)
	}
	return nil
}

// GetAggregation implements authz.Cache. Entries no longer valid at now are dropped.
func (c *MemoryCache) GetAggregation(_ context.Context, userID uuid.UUID, now time.Time) (*authz.Aggregation, bool) {
	agg, ok := c.aggregations.Get(userID)
	if ok && !agg.ValidAt(now) {
		c.aggregations.Remove(userID)
		ok = false
	}
	c.record(keyAggregation, ok)
	if !ok {
		return nil, false
	}
	return agg, true
}

// SetAggregation implements authz.Cache
func (c *MemoryCache) SetAggregation(_ context.Context, ver authz.CacheVersion, userID uuid.UUID, agg *authz.Aggregation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current(ver) {
		c.aggregations.Add(userID, agg)
	}
	return nil
}

// InvalidateUser implements authz.Cache
func (c *MemoryCache) InvalidateUser(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	c.version++
	c.aggregations.Remove(userID)
	c.mu.Unlock()
	c.recorder.RecordCacheInvalidation(BackendMemory, "user")
	return nil
}

// InvalidateAll implements authz.Cache
func (c *MemoryCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	c.version++
	c.expansions.Purge()
	c.aggregations.Purge()
	c.mu.Unlock()
	c.recorder.RecordCacheInvalidation(BackendMemory, "all")
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	stats := Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Expansions:   int64(c.expansions.Len()),
		Aggregations: int64(c.aggregations.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
