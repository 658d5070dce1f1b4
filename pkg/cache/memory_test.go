package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheStringRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "index:MUNI_AAA:2024-05-01", "0.05", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got string
	if err := mc.Get(ctx, "index:MUNI_AAA:2024-05-01", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "0.05" {
		t.Fatalf("got %q", got)
	}
}

func TestMemoryCacheStructViaJSON(t *testing.T) {
	type fixing struct {
		Code string `json:"code"`
		Rate string `json:"rate"`
	}
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "k", fixing{Code: "USTR_CMT", Rate: "0.0425"}, time.Minute)
	var got fixing
	if err := mc.Get(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Code != "USTR_CMT" || got.Rate != "0.0425" {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "short", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	var got string
	if err := mc.Get(ctx, "short", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", time.Minute)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "b", "2", time.Minute)
	time.Sleep(time.Millisecond)
	var v string
	_ = mc.Get(ctx, "a", &v) // touch a so b is oldest
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "c", "3", time.Minute)

	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if ok, _ := mc.Exists(ctx, "a", "c"); !ok {
		t.Fatalf("expected a and c to remain")
	}
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "index:MUNI_AAA:2024-05-01", "0.05", time.Minute)
	_ = mc.Set(ctx, "index:MUNI_AAA:2024-05-02", "0.051", time.Minute)
	_ = mc.Set(ctx, "index:USTR_CMT:2024-05-01", "0.04", time.Minute)

	if err := mc.DeleteByPattern(ctx, BuildPattern(GenerateKeyWithParams("index", "MUNI_AAA"))); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mc.Exists(ctx, "index:MUNI_AAA:2024-05-01", "index:MUNI_AAA:2024-05-02"); ok {
		t.Fatalf("muni keys should be gone")
	}
	if ok, _ := mc.Exists(ctx, "index:USTR_CMT:2024-05-01"); !ok {
		t.Fatalf("treasury key should remain")
	}
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if ok, _ := mc.TryLock(ctx, "lock:job", time.Minute); !ok {
		t.Fatalf("first lock should succeed")
	}
	if ok, _ := mc.TryLock(ctx, "lock:job", time.Minute); ok {
		t.Fatalf("second lock should fail")
	}
	_ = mc.Unlock(ctx, "lock:job")
	if ok, _ := mc.TryLock(ctx, "lock:job", time.Minute); !ok {
		t.Fatalf("lock after unlock should succeed")
	}
}

func TestMemoryCacheSweepsExpiredFixings(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(5 * time.Millisecond))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "index:MUNI_AAA:2024-05-01", "0.05", time.Millisecond)
	_ = mc.Set(ctx, "index:USTR_CMT:2024-05-01", "0.04", time.Minute)

	deadline := time.Now().Add(time.Second)
	for {
		n := mc.Len()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired fixing was not swept, %d entries left", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryOptionsIgnoreNonPositive(t *testing.T) {
	cfg := MemoryConfig{MaxSize: 10, CleanupInterval: time.Minute}
	WithMemoryCleanup(0)(&cfg)
	WithMemoryMaxSize(-1)(&cfg)
	if cfg.CleanupInterval != time.Minute || cfg.MaxSize != 10 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	// a zero interval would make the ticker panic
	mc := NewMemoryCache(WithMemoryCleanup(0))
	_ = mc.Close()
}

func TestMemoryCacheOverwriteKeepsSize(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "index:MUNI_AAA:2024-05-01", "0.05", time.Minute)
	_ = mc.Set(ctx, "index:USTR_CMT:2024-05-01", "0.04", time.Minute)
	_ = mc.Set(ctx, "index:MUNI_AAA:2024-05-01", "0.051", time.Minute)

	if mc.Len() != 2 {
		t.Fatalf("overwrite must not evict, len=%d", mc.Len())
	}
	var got string
	if err := mc.Get(ctx, "index:MUNI_AAA:2024-05-01", &got); err != nil || got != "0.051" {
		t.Fatalf("got %q err %v", got, err)
	}
}

func TestMemoryCacheExpiryUsesClock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	_ = mc.Set(ctx, "index:MUNI_AAA:2024-05-01", "0.05", time.Hour)
	now = now.Add(time.Hour)
	if ok, _ := mc.Exists(ctx, "index:MUNI_AAA:2024-05-01"); ok {
		t.Fatalf("entry should expire exactly at its deadline")
	}
	if mc.Len() != 0 {
		t.Fatalf("expired entry should be dropped on read")
	}
}

func TestMemoryCacheDeleteByGlob(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "index:MUNI_AAA:2024-05-01", "0.05", time.Minute)
	_ = mc.Set(ctx, "index:USTR_CMT:2024-05-01", "0.04", time.Minute)
	_ = mc.Set(ctx, "index:USTR_CMT:2024-05-02", "0.041", time.Minute)

	if err := mc.DeleteByPattern(ctx, "index:*:2024-05-01"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mc.Len() != 1 {
		t.Fatalf("expected only the 05-02 fixing to remain, len=%d", mc.Len())
	}
}

func TestMemoryCacheUnlockWithoutLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	err := mc.Unlock(context.Background(), "lock:ytw-batch")
	if !errors.Is(err, ErrLockNotHeld) || !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrLockNotHeld, got %v", err)
	}
}
