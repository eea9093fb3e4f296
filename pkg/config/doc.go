// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Every variable carries the MEMAUTHZ_ prefix.
//
// # Configuration Structure
//
// Admin server settings:
//
//	MEMAUTHZ_HOST="0.0.0.0"
//	MEMAUTHZ_ADMIN_PORT="9090"
//	MEMAUTHZ_READ_TIMEOUT="15s"
//	MEMAUTHZ_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	MEMAUTHZ_STORE_TYPE="postgres"  # memory, postgres, sqlite
//	MEMAUTHZ_POLICY_FILE="/etc/memauthz/policy.yaml"
//	MEMAUTHZ_POSTGRES_URL="postgres://localhost/memauthz"
//	MEMAUTHZ_POSTGRES_REPLICA_URLS="postgres://replica-1/memauthz,postgres://replica-2/memauthz"
//	MEMAUTHZ_POSTGRES_REPLICA_READS="false"  # reads stay on the primary unless true
//	MEMAUTHZ_POSTGRES_MAX_CONNS="20"
//	MEMAUTHZ_SQLITE_PATH="memauthz.db"
//	MEMAUTHZ_AUTO_MIGRATE="true"
//	MEMAUTHZ_SEED_BUILTIN_ROLES="true"
//
// Cache settings:
//
//	MEMAUTHZ_CACHE_BACKEND="redis"  # none, memory, redis
//	MEMAUTHZ_CACHE_TTL="5m"
//	MEMAUTHZ_REDIS_URL="redis://localhost:6379/0"
//	MEMAUTHZ_REDIS_POOL_SIZE="10"
//
// Engine and reload settings:
//
//	MEMAUTHZ_INHERITANCE="upward"  # upward, downward
//	MEMAUTHZ_WATCH_POLICY="true"
//	MEMAUTHZ_REFRESH_SCHEDULE="*/5 * * * *"
//	MEMAUTHZ_CACHE_PURGE_SCHEDULE="@hourly"
//
// Observability settings:
//
//	MEMAUTHZ_LOG_LEVEL="info"  # debug, info, warn, error
//	MEMAUTHZ_METRICS_ENABLED="true"
//	MEMAUTHZ_OTEL_ENABLED="true"
//	MEMAUTHZ_OTEL_ENDPOINT="otel-collector:4317"
//	MEMAUTHZ_OTEL_TRACES="true"
//	MEMAUTHZ_OTEL_METRICS="true"  # false for trace-only export
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Admin: %s\n", cfg.Server.Addr())
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
//	fmt.Printf("Inheritance: %s\n", cfg.Engine.Inheritance)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/cache: Uses cache configuration
//   - pkg/observability: Uses observability configuration
package config
