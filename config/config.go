// Package config loads storesync settings from environment variables.
// All values have working defaults; an optional .env file is honored when
// present so local setups match deployed ones.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the coordination components recognize.
type Config struct {
	// Redis connection.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Distributed lock.
	LockLease         time.Duration
	LockWait          time.Duration
	LockRetryInterval time.Duration

	// Token revocation.
	JWTSecret        string
	MaxTokenLifetime time.Duration

	// Presence tracking.
	PresenceTimeout       time.Duration
	PresenceDetailTTL     time.Duration
	PresenceSweepInterval time.Duration

	// Read-through cache.
	CacheTTL time.Duration

	// Audit event queue.
	AuditBatchSize     int
	AuditMaxRetries    int
	AuditDrainInterval time.Duration
	AuditHighWater     int64
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if it exists; a missing file is not an error.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		RedisAddr:     getString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		LockLease:         getDuration("LOCK_LEASE", 30*time.Second),
		LockWait:          getDuration("LOCK_WAIT", 5*time.Second),
		LockRetryInterval: getDuration("LOCK_RETRY_INTERVAL", 100*time.Millisecond),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		MaxTokenLifetime: getDuration("MAX_TOKEN_LIFETIME", 7*24*time.Hour),

		PresenceTimeout:       getDuration("PRESENCE_TIMEOUT", 5*time.Minute),
		PresenceDetailTTL:     getDuration("PRESENCE_DETAIL_TTL", 30*time.Minute),
		PresenceSweepInterval: getDuration("PRESENCE_SWEEP_INTERVAL", time.Minute),

		CacheTTL: getDuration("CACHE_TTL", 30*time.Minute),

		AuditBatchSize:     getInt("AUDIT_BATCH_SIZE", 100),
		AuditMaxRetries:    getInt("AUDIT_MAX_RETRIES", 3),
		AuditDrainInterval: getDuration("AUDIT_DRAIN_INTERVAL", 5*time.Second),
		AuditHighWater:     int64(getInt("AUDIT_HIGH_WATER", 1000)),
	}
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
