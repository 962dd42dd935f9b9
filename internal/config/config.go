// Package config loads server configuration from environment variables with
// safe local-development defaults.
package config

import (
	"os"
	"time"
)

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// DatabasePath is the SQLite file backing the script store.
	DatabasePath string
	// CacheTTL bounds script-cache staleness when no invalidation happens.
	CacheTTL time.Duration
	// RedisAddr, when set, switches the script cache to the Redis backend so
	// invalidations propagate across instances. Empty means in-process cache.
	RedisAddr string
	// LogLevel is DEBUG, INFO, WARN, or ERROR.
	LogLevel string
}

// Load reads configuration from the environment.
func Load() *Config {
	addr := os.Getenv("TOLLGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	dbPath := os.Getenv("TOLLGATE_DB")
	if dbPath == "" {
		dbPath = "tollgate.db"
	}

	ttl := 5 * time.Minute
	if raw := os.Getenv("TOLLGATE_CACHE_TTL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			ttl = parsed
		}
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		Addr:         addr,
		DatabasePath: dbPath,
		CacheTTL:     ttl,
		RedisAddr:    os.Getenv("TOLLGATE_REDIS_ADDR"),
		LogLevel:     logLevel,
	}
}
