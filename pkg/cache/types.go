package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/authz"
)

// Backend names accepted by New
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds cache configuration
type Config struct {
	Backend    string
	MaxEntries int           // per keyspace, memory backend only
	TTL        time.Duration // upper bound on entry lifetime

	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisPoolSize   int
	RedisMaxRetries int
	KeyPrefix       string
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Backend:    BackendMemory,
		MaxEntries: 10000,
		TTL:        5 * time.Minute,
		RedisURL:   "redis://localhost:6379/0",
		RedisDB:    -1,
		KeyPrefix:  "memauthz",
	}
}

// Stats represents cache statistics
type Stats struct {
	Hits         int64
	Misses       int64
	HitRate      float64
	Expansions   int64
	Aggregations int64
}

// MetricsRecorder receives cache lookups and invalidations
type MetricsRecorder interface {
	RecordCacheLookup(cacheType, keyType string, hit bool)
	RecordCacheInvalidation(cacheType, scope string)
}

type noopRecorder struct{}

func (noopRecorder) RecordCacheLookup(string, string, bool) {}
func (noopRecorder) RecordCacheInvalidation(string, string) {}

// Key types reported to MetricsRecorder
const (
	keyExpansion   = "expansion"
	keyAggregation = "aggregation"
)

func expansionKey(dir authz.InheritanceDirection, roleID uuid.UUID) string {
	return fmt.Sprintf("exp:%s:%s", dir, roleID)
}

func aggregationKey(userID uuid.UUID) string {
	return "agg:" + userID.String()
}

// entryTTL caps ttl so an aggregation never outlives its earliest expiring assignment
func entryTTL(ttl time.Duration, agg *authz.Aggregation, now time.Time) time.Duration {
	if agg == nil || agg.ValidUntil == nil {
		return ttl
	}
	remaining := agg.ValidUntil.Sub(now)
	if remaining < ttl || ttl <= 0 {
		return remaining
	}
	return ttl
}

// New builds the authz.Cache selected by cfg.Backend
func New(cfg Config, recorder MetricsRecorder) (authz.Cache, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return authz.NoopCache{}, nil
	case BackendMemory:
		return NewMemoryCache(cfg, recorder), nil
	case BackendRedis:
		return NewRedisCache(cfg, recorder)
	}
	return nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
}
