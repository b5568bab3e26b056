// Package config provides application configuration for the authz service.
//
// # Overview
//
// Configuration is layered: built-in defaults, then an optional YAML file
// named by AUTHZ_CONFIG_FILE, then AUTHZ_* environment variables. The
// environment always wins, so a containerised deployment can ship a base
// file and override single values per environment.
//
// # Configuration Structure
//
// Server settings:
//
//	AUTHZ_HOST="0.0.0.0"
//	AUTHZ_PORT="8080"
//	AUTHZ_HEALTH_PORT="9090"
//	AUTHZ_READ_TIMEOUT="15s"
//	AUTHZ_WRITE_TIMEOUT="15s"
//	AUTHZ_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	AUTHZ_POSTGRES_URL="postgres://localhost/authz"
//	AUTHZ_POSTGRES_MAX_OPEN_CONNS="25"
//	AUTHZ_POSTGRES_MAX_IDLE_CONNS="5"
//	AUTHZ_POSTGRES_CONN_MAX_LIFETIME="30m"
//
// Cache settings:
//
//	AUTHZ_CACHE_BACKEND="memory"  # memory, redis
//	AUTHZ_CACHE_TTL="5m"
//	AUTHZ_CACHE_MAX_ENTRIES="65536"
//	AUTHZ_REDIS_URL="redis://localhost:6379/0"
//
// Audit settings:
//
//	AUTHZ_AUDIT_RETENTION_DAYS="365"  # 0 disables the cleanup sweep
//	AUTHZ_AUDIT_CLEANUP_SCHEDULE="0 3 * * *"
//	AUTHZ_AUDIT_WRITE_TIMEOUT="10s"
//
// Observability settings:
//
//	AUTHZ_LOG_LEVEL="info"  # debug, info, warn, error
//	AUTHZ_METRICS_ENABLED="true"
//	AUTHZ_OTEL_ENABLED="false"
//	AUTHZ_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Cache backend: %s\n", cfg.Cache.Backend)
package config
