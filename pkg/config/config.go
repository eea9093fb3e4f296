package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/cache"
	"github.com/platinummonkey/memauthz/pkg/observability"
	"github.com/platinummonkey/memauthz/pkg/storage"
	"github.com/platinummonkey/memauthz/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	// Admin server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Decision cache configuration
	Cache cache.Config

	// Engine configuration
	Engine EngineConfig

	// Policy reload configuration
	Reload ReloadConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// EngineConfig holds decision engine settings
type EngineConfig struct {
	Inheritance authz.InheritanceDirection
}

// ReloadConfig controls how the memory store picks up policy changes and
// how often derived state is refreshed
type ReloadConfig struct {
	WatchPolicy     bool
	Debounce        time.Duration
	RefreshSchedule string // cron spec, empty disables periodic policy refresh
	PurgeSchedule   string // cron spec, empty disables periodic cache purge
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
	OTelTraces         bool
	OTelMetrics        bool
	OTelMetricInterval time.Duration
}

// OTel converts the settings into an observability.OTelConfig
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
		Traces:         o.OTelTraces,
		Metrics:        o.OTelMetrics,
		MetricInterval: o.OTelMetricInterval,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	inheritance, err := authz.ParseInheritanceDirection(getEnv("MEMAUTHZ_INHERITANCE", string(authz.InheritUpward)))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Cache:         loadCacheConfig(),
		Engine:        EngineConfig{Inheritance: inheritance},
		Reload:        loadReloadConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MEMAUTHZ_HOST", "0.0.0.0"),
		Port:            getEnv("MEMAUTHZ_ADMIN_PORT", "9090"),
		ReadTimeout:     getEnvDuration("MEMAUTHZ_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MEMAUTHZ_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MEMAUTHZ_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MEMAUTHZ_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storeType := getEnv("MEMAUTHZ_STORE_TYPE", ""); storeType != "" {
		cfg.Type = strings.ToLower(storeType)
	}
	cfg.PolicyFile = getEnv("MEMAUTHZ_POLICY_FILE", cfg.PolicyFile)

	// PostgreSQL config
	if pgURL := getEnv("MEMAUTHZ_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("MEMAUTHZ_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.ReplicaURLs = postgres.ParseReplicaURLs(replicaURLs)
	}
	cfg.ReplicaReads = getEnvBool("MEMAUTHZ_POSTGRES_REPLICA_READS", cfg.ReplicaReads)
	if maxConns := getEnvInt("MEMAUTHZ_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("MEMAUTHZ_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("MEMAUTHZ_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// SQLite config
	cfg.SQLitePath = getEnv("MEMAUTHZ_SQLITE_PATH", cfg.SQLitePath)

	cfg.AutoMigrate = getEnvBool("MEMAUTHZ_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.SeedBuiltIns = getEnvBool("MEMAUTHZ_SEED_BUILTIN_ROLES", cfg.SeedBuiltIns)

	return cfg
}

// loadCacheConfig loads cache configuration from environment
func loadCacheConfig() cache.Config {
	cfg := cache.DefaultConfig()

	if backend := getEnv("MEMAUTHZ_CACHE_BACKEND", ""); backend != "" {
		cfg.Backend = strings.ToLower(backend)
	}
	if maxEntries := getEnvInt("MEMAUTHZ_CACHE_MAX_ENTRIES", 0); maxEntries > 0 {
		cfg.MaxEntries = maxEntries
	}
	cfg.TTL = getEnvDuration("MEMAUTHZ_CACHE_TTL", cfg.TTL)
	cfg.KeyPrefix = getEnv("MEMAUTHZ_CACHE_KEY_PREFIX", cfg.KeyPrefix)

	// Redis config
	if redisURL := getEnv("MEMAUTHZ_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("MEMAUTHZ_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("MEMAUTHZ_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("MEMAUTHZ_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("MEMAUTHZ_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadReloadConfig loads policy reload configuration from environment
func loadReloadConfig() ReloadConfig {
	return ReloadConfig{
		WatchPolicy:     getEnvBool("MEMAUTHZ_WATCH_POLICY", false),
		Debounce:        getEnvDuration("MEMAUTHZ_WATCH_DEBOUNCE", 250*time.Millisecond),
		RefreshSchedule: getEnv("MEMAUTHZ_REFRESH_SCHEDULE", ""),
		PurgeSchedule:   getEnv("MEMAUTHZ_CACHE_PURGE_SCHEDULE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("MEMAUTHZ_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("MEMAUTHZ_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("MEMAUTHZ_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("MEMAUTHZ_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("MEMAUTHZ_OTEL_SERVICE_NAME", "memauthz"),
		OTelServiceVersion: getEnv("MEMAUTHZ_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("MEMAUTHZ_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("MEMAUTHZ_OTEL_SAMPLE_RATIO", 1),
		OTelTraces:         getEnvBool("MEMAUTHZ_OTEL_TRACES", true),
		OTelMetrics:        getEnvBool("MEMAUTHZ_OTEL_METRICS", true),
		OTelMetricInterval: getEnvDuration("MEMAUTHZ_OTEL_METRIC_INTERVAL", 10*time.Second),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("admin port is required")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "memory":
		if c.Reload.WatchPolicy && c.Storage.PolicyFile == "" {
			return fmt.Errorf("policy file is required to watch policy changes")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, postgres, or sqlite)", c.Storage.Type)
	}
	if c.Reload.WatchPolicy && c.Storage.Type != "memory" {
		return fmt.Errorf("policy watching requires memory storage, got %s", c.Storage.Type)
	}

	switch c.Cache.Backend {
	case "", cache.BackendNone, cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be none, memory, or redis)", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}

	if _, err := authz.ParseInheritanceDirection(string(c.Engine.Inheritance)); err != nil {
		return err
	}

	for name, spec := range map[string]string{
		"refresh schedule":     c.Reload.RefreshSchedule,
		"cache purge schedule": c.Reload.PurgeSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
