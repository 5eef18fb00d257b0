// Package users resolves external user codes to internal keys.
package users

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/logging"
	"github.com/opensource-finance/sentinelstream/internal/metrics"
)

// Store is the persistence the directory falls back to on a cache miss.
type Store interface {
	ResolveUser(ctx context.Context, code string) (int64, error)
}

// Directory is a read-through cache over the user table.
type Directory struct {
	store Store
	cache domain.Cache
	ttl   time.Duration
}

// NewDirectory creates a directory. A nil cache disables caching.
func NewDirectory(store Store, cache domain.Cache, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Directory{store: store, cache: cache, ttl: ttl}
}

// CacheKey is the cache key for a user code.
func CacheKey(code string) string {
	return "user:" + code
}

// Resolve returns the internal key for code, creating the user when needed.
// Cache failures degrade to a store lookup and are never returned.
func (d *Directory) Resolve(ctx context.Context, code string) (int64, error) {
	if code == "" {
		return 0, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	key := CacheKey(code)

	if d.cache != nil {
		raw, err := d.cache.Get(ctx, key)
		switch {
		case err != nil:
			logging.L(ctx).Warn("user cache read failed", "user", code, "error", err)
		case raw != nil:
			if id, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
				metrics.UserCacheTotal.WithLabelValues("hit").Inc()
				return id, nil
			}
			logging.L(ctx).Warn("discarding malformed cached user key", "user", code)
		}
	}
	metrics.UserCacheTotal.WithLabelValues("miss").Inc()

	id, err := d.store.ResolveUser(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("resolve user %s: %w", code, err)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, key, []byte(strconv.FormatInt(id, 10)), d.ttl); err != nil {
			logging.L(ctx).Warn("user cache write failed", "user", code, "error", err)
		}
	}
	return id, nil
}
