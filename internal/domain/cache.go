package domain

import (
	"context"
	"time"
)

// Cache is a byte-value store with per-key expiry. It backs the user
// directory and the alert consumer's delivered-id memory.
type Cache interface {
	// Get returns nil, nil when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a non-positive ttl means no expiry where supported.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects the cache implementation.
type CacheConfig struct {
	Type string // "memory" or "redis"

	// In-process LRU, also the L1 of the two-phase cache.
	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool

	// UserTTL is how long a resolved user key stays cached.
	UserTTL time.Duration
}
