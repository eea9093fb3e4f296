package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/authz"
)

// RedisCache is an authz.Cache shared between engine instances. Values are
// JSON encoded. InvalidateAll bumps a global generation and InvalidateUser a
// per-user one; both are part of the entry keys, so stale entries become
// unreachable and age out by TTL.
type RedisCache struct {
	client   *redis.Client
	config   Config
	recorder MetricsRecorder
}

var _ authz.Cache = (*RedisCache)(nil)

// NewRedisCache connects to cfg.RedisURL and pings it
func NewRedisCache(cfg Config, recorder MetricsRecorder) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheFromClient(client, cfg, recorder), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, cfg Config, recorder MetricsRecorder) *RedisCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &RedisCache{client: client, config: cfg, recorder: recorder}
}

func (c *RedisCache) generationKey() string {
	return c.config.KeyPrefix + ":generation"
}

func (c *RedisCache) userGenerationKey(userID uuid.UUID) string {
	return c.config.KeyPrefix + ":generation:" + userID.String()
}

func parseGeneration(v interface{}) (int64, error) {
	switch g := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(g, 10, 64)
	}
	return 0, fmt.Errorf("unexpected generation value %T", v)
}

// Version implements authz.Cache. uuid.Nil reads only the global generation.
func (c *RedisCache) Version(ctx context.Context, userID uuid.UUID) (authz.CacheVersion, error) {
	keys := []string{c.generationKey()}
	if userID != uuid.Nil {
		keys = append(keys, c.userGenerationKey(userID))
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return authz.CacheVersion{}, fmt.Errorf("failed to read cache generation: %w", err)
	}

	var ver authz.CacheVersion
	if ver.Global, err = parseGeneration(vals[0]); err != nil {
		return authz.CacheVersion{}, err
	}
	if len(vals) > 1 {
		if ver.User, err = parseGeneration(vals[1]); err != nil {
			return authz.CacheVersion{}, err
		}
	}
	return ver, nil
}

// Entry keys embed the generations a load started from, so a write that
// raced an invalidation lands on a key no later lookup reads.
func (c *RedisCache) expansionEntryKey(ver authz.CacheVersion, dir authz.InheritanceDirection, roleID uuid.UUID) string {
	return fmt.Sprintf("%s:%d:%s", c.config.KeyPrefix, ver.Global, expansionKey(dir, roleID))
}

func (c *RedisCache) aggregationEntryKey(ver authz.CacheVersion, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%d:%s:%d", c.config.KeyPrefix, ver.Global, aggregationKey(userID), ver.User)
}

func (c *RedisCache) get(ctx context.Context, keyType, key string, v interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		c.recorder.RecordCacheLookup(BackendRedis, keyType, false)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		// corrupt entries are dropped and read as a miss
		c.client.Del(ctx, key)
		c.recorder.RecordCacheLookup(BackendRedis, keyType, false)
		return false
	}
	c.recorder.RecordCacheLookup(BackendRedis, keyType, true)
	return true
}

func (c *RedisCache) set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	if ttl < 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetExpansion implements authz.Cache
func (c *RedisCache) GetExpansion(ctx context.Context, dir authz.InheritanceDirection, roleID uuid.UUID) ([]authz.Role, bool) {
	ver, err := c.Version(ctx, uuid.Nil)
	if err != nil {
		c.recorder.RecordCacheLookup(BackendRedis, keyExpansion, false)
		return nil, false
	}
	var roles []authz.Role
	if !c.get(ctx, keyExpansion, c.expansionEntryKey(ver, dir, roleID), &roles) {
		return nil, false
	}
	return roles, true
}

// SetExpansion implements authz.Cache
func (c *RedisCache) SetExpansion(ctx context.Context, ver authz.CacheVersion, dir authz.InheritanceDirection, roleID uuid.UUID, roles []authz.Role) error {
	return c.set(ctx, c.expansionEntryKey(ver, dir, roleID), roles, c.config.TTL)
}

// GetAggregation implements authz.Cache
func (c *RedisCache) GetAggregation(ctx context.Context, userID uuid.UUID, now time.Time) (*authz.Aggregation, bool) {
	ver, err := c.Version(ctx, userID)
	if err != nil {
		c.recorder.RecordCacheLookup(BackendRedis, keyAggregation, false)
		return nil, false
	}
	var agg authz.Aggregation
	if !c.get(ctx, keyAggregation, c.aggregationEntryKey(ver, userID), &agg) {
		return nil, false
	}
	if !agg.ValidAt(now) {
		return nil, false
	}
	return &agg, true
}

// SetAggregation implements authz.Cache. The entry expires no later than
// the aggregation's earliest assignment expiry.
func (c *RedisCache) SetAggregation(ctx context.Context, ver authz.CacheVersion, userID uuid.UUID, agg *authz.Aggregation) error {
	ttl := entryTTL(c.config.TTL, agg, time.Now())
	if agg.ValidUntil != nil && ttl <= 0 {
		return nil
	}
	return c.set(ctx, c.aggregationEntryKey(ver, userID), agg, ttl)
}

// InvalidateUser implements authz.Cache. It bumps the user's generation;
// the counter outlives every entry written under it.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	key := c.userGenerationKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		if c.config.TTL > 0 {
			pipe.Expire(ctx, key, 2*c.config.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate user: %w", err)
	}
	c.recorder.RecordCacheInvalidation(BackendRedis, "user")
	return nil
}

// InvalidateAll implements authz.Cache
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("failed to bump cache generation: %w", err)
	}
	c.recorder.RecordCacheInvalidation(BackendRedis, "all")
	return nil
}

// Ping checks Redis connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for health checks
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
