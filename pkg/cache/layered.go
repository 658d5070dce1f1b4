package cache

import (
	"context"
	"errors"
	"time"
)

// Lookup results reported to a LookupRecorder.
const (
	LookupL1   = "l1"
	LookupL2   = "l2"
	LookupMiss = "miss"
)

// LookupRecorder counts where a read was served from.
type LookupRecorder interface {
	RecordCacheLookup(result string)
}

type nopLookups struct{}

func (nopLookups) RecordCacheLookup(string) {}

// LayeredCache keeps a short-lived in-process copy (L1) of what Redis (L2)
// holds. Redis stays the source of truth: writes go there first and L1
// entries never outlive MemoryTTL. Locks always go to Redis so every
// instance sees them.
type LayeredCache struct {
	l1    *MemoryCache
	l2    *RedisCache
	l1TTL time.Duration
	rec   LookupRecorder
}

func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var rec LookupRecorder = nopLookups{}
	if cfg.Recorder != nil {
		rec = cfg.Recorder
	}
	return &LayeredCache{
		l1:    NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize), WithMemoryCleanup(cfg.MemoryCleanup)),
		l2:    redisCache,
		l1TTL: cfg.MemoryTTL,
		rec:   rec,
	}
}

// l1Expiry bounds an L1 copy by both MemoryTTL and the L2 expiration.
func (lc *LayeredCache) l1Expiry(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.l1TTL {
		return expiration
	}
	return lc.l1TTL
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.l2.Set(ctx, key, value, expiration); err != nil {
		// a stale L1 copy would outlive the failed write
		_ = lc.l1.Delete(ctx, key)
		return err
	}
	return lc.l1.Set(ctx, key, value, lc.l1Expiry(expiration))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.l1.Get(ctx, key, dest); err == nil {
		lc.rec.RecordCacheLookup(LookupL1)
		return nil
	}

	if err := lc.l2.Get(ctx, key, dest); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			lc.rec.RecordCacheLookup(LookupMiss)
		}
		return err
	}
	lc.rec.RecordCacheLookup(LookupL2)

	value := interface{}(dest)
	if s, ok := dest.(*string); ok {
		value = *s
	}
	_ = lc.l1.Set(ctx, key, value, lc.l1TTL)
	return nil
}

// Delete and DeleteByPattern clear L1 after L2 so a concurrent Get cannot
// refill L1 from the old L2 value.
func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	err := lc.l2.Delete(ctx, keys...)
	_ = lc.l1.Delete(ctx, keys...)
	return err
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	err := lc.l2.DeleteByPattern(ctx, pattern)
	_ = lc.l1.DeleteByPattern(ctx, pattern)
	return err
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.l1.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.l2.Exists(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

func (lc *LayeredCache) Close() error {
	_ = lc.l1.Close()
	return lc.l2.Close()
}
