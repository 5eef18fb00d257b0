package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "user:alice", []byte("17"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "user:alice")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "17" {
			t.Errorf("expected '17', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "user:nobody")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "user:bob", []byte("2"), time.Minute)
		if err := cache.Delete(ctx, "user:bob"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, "user:bob"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Unix(1700000000, 0)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "expiring", []byte("temp"), 300*time.Second)
		if val, _ := c.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(301 * time.Second)
		if val, _ := c.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected expired entry to be removed, size %d", size)
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Unix(1700000000, 0)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "pinned", []byte("v"), 0)
		now = now.Add(24 * time.Hour)
		if val, _ := c.Get(ctx, "pinned"); val == nil {
			t.Error("expected value without ttl to persist")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' is the least recently used.
		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, "k", []byte("old"), time.Minute)
		_ = cache.Set(ctx, "k", []byte("new"), time.Minute)
		if val, _ := cache.Get(ctx, "k"); string(val) != "new" {
			t.Errorf("expected 'new', got '%s'", val)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		c := NewLRUCache(50)
		_ = c.Set(ctx, "x", []byte("1"), time.Minute)
		size, capacity := c.Stats()
		if size != 1 || capacity != 50 {
			t.Errorf("expected 1/50, got %d/%d", size, capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.Set(ctx, "x", []byte("1"), time.Minute)
		if err := c.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected empty cache after close, got %d", size)
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadThroughPopulatesL1", func(t *testing.T) {
		local, remote := NewLRUCache(10), NewLRUCache(10)
		c := NewTwoPhaseCache(local, remote, time.Minute)

		_ = remote.Set(ctx, "user:carol", []byte("3"), time.Minute)

		val, err := c.Get(ctx, "user:carol")
		if err != nil || string(val) != "3" {
			t.Fatalf("expected L2 hit, got %q %v", val, err)
		}
		if l1, _ := local.Get(ctx, "user:carol"); string(l1) != "3" {
			t.Error("expected L1 to be populated after L2 hit")
		}
	})

	t.Run("SetWritesBoth", func(t *testing.T) {
		local, remote := NewLRUCache(10), NewLRUCache(10)
		c := NewTwoPhaseCache(local, remote, time.Minute)

		_ = c.Set(ctx, "user:dave", []byte("4"), 5*time.Minute)
		if v, _ := local.Get(ctx, "user:dave"); v == nil {
			t.Error("expected L1 write")
		}
		if v, _ := remote.Get(ctx, "user:dave"); v == nil {
			t.Error("expected L2 write")
		}
	})

	t.Run("DeleteRemovesBoth", func(t *testing.T) {
		local, remote := NewLRUCache(10), NewLRUCache(10)
		c := NewTwoPhaseCache(local, remote, time.Minute)

		_ = c.Set(ctx, "k", []byte("v"), time.Minute)
		_ = c.Delete(ctx, "k")
		if v, _ := c.Get(ctx, "k"); v != nil {
			t.Error("expected miss after delete")
		}
	})

	t.Run("Miss", func(t *testing.T) {
		c := NewTwoPhaseCache(NewLRUCache(10), NewLRUCache(10), 0)
		if v, err := c.Get(ctx, "absent"); v != nil || err != nil {
			t.Errorf("expected clean miss, got %q %v", v, err)
		}
		if c.l1TTL != 5*time.Minute {
			t.Errorf("expected default L1 ttl, got %v", c.l1TTL)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
