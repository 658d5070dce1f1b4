package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

// defaultMemoryTTL applies when Set is called without an expiration.
const defaultMemoryTTL = 24 * time.Hour

type memoryEntry struct {
	key      string
	value    interface{}
	expireAt time.Time
}

// MemoryCache is a bounded in-process Service. The least recently read or
// written entry is evicted first; expired entries are swept periodically and
// dropped lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	maxSize int
	now     func() time.Time

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: cfg.MaxSize,
		now:     time.Now,
		ticker:  time.NewTicker(cfg.CleanupInterval),
		done:    make(chan struct{}),
	}
	go mc.sweepLoop()
	return mc
}

// Len counts stored entries, expired ones included until swept.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.items)
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, value, expiration)
	return nil
}

func (mc *MemoryCache) put(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	expireAt := mc.now().Add(ttl)

	if el, ok := mc.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value, e.expireAt = value, expireAt
		mc.order.MoveToFront(el)
		return
	}
	for len(mc.items) >= mc.maxSize && mc.order.Len() > 0 {
		mc.remove(mc.order.Back())
	}
	mc.items[key] = mc.order.PushFront(&memoryEntry{key: key, value: value, expireAt: expireAt})
}

// live returns the entry for key, dropping it if it has expired.
func (mc *MemoryCache) live(key string) (*list.Element, bool) {
	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	if !mc.now().Before(el.Value.(*memoryEntry).expireAt) {
		mc.remove(el)
		return nil, false
	}
	return el, true
}

func (mc *MemoryCache) remove(el *list.Element) {
	mc.order.Remove(el)
	delete(mc.items, el.Value.(*memoryEntry).key)
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	el, ok := mc.live(key)
	if !ok {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.order.MoveToFront(el)
	value := el.Value.(*memoryEntry).value
	mc.mu.Unlock()

	return assign(value, dest)
}

// assign copies a stored value into dest. Strings land in *string directly;
// anything else goes through JSON so callers see the same shapes RedisCache returns.
func assign(value interface{}, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		if s, ok := value.(string); ok {
			*d = s
			return nil
		}
	case *interface{}:
		*d = value
		return nil
	}

	raw, ok := value.(string)
	data := []byte(raw)
	if !ok {
		var err error
		if data, err = json.Marshal(value); err != nil {
			return fmt.Errorf("cache: encode value: %w", err)
		}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decode value: %w", err)
	}
	return nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if el, ok := mc.items[key]; ok {
			mc.remove(el)
		}
	}
	return nil
}

// DeleteByPattern takes Redis-style globs. The trailing-star prefixes built
// by BuildPattern skip the glob matcher.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	match := func(key string) bool {
		ok, _ := path.Match(pattern, key)
		return ok
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && !strings.ContainsAny(prefix, "*?[\\") {
		match = func(key string) bool { return strings.HasPrefix(key, prefix) }
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	for key, el := range mc.items {
		if match(key) {
			mc.remove(el)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if _, ok := mc.live(key); ok {
			return true, nil
		}
	}
	return false, nil
}

// TryLock takes key for ttl if nobody holds it. It backs the batch-run lock
// when Redis is disabled.
func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, held := mc.live(key); held {
		return false, nil
	}
	mc.put(key, "locked", ttl)
	return true, nil
}

// Unlock releases key. Releasing a lock that is not held gives ErrLockNotHeld,
// matching RedisCache.
func (mc *MemoryCache) Unlock(_ context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	el, ok := mc.live(key)
	if !ok {
		return ErrLockNotHeld
	}
	mc.remove(el)
	return nil
}

func (mc *MemoryCache) sweepLoop() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.ticker.C:
			mc.sweep()
		}
	}
}

func (mc *MemoryCache) sweep() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	for el := mc.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*memoryEntry).expireAt) {
			mc.remove(el)
		}
		el = prev
	}
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.ticker.Stop()
		close(mc.done)
	})
	return nil
}
