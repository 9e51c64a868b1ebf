package flow

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/pandit/internal/core"
)

const (
	DefaultCapacity        = 8192
	DefaultTTL             = 30 * time.Second
	DefaultCleanupInterval = 10 * time.Second
)

// CacheConfig configures a Cache.
type CacheConfig struct {
	Capacity        int
	TTL             time.Duration
	CleanupInterval time.Duration
	// OnEvict is called after a flow leaves the cache, whether by expiry
	// or by Delete.
	OnEvict func(Key)
}

// Cache maps response flows to their parse state.
//
// Entries expire after TTL without a Record. Inserting a new key while the
// cache holds Capacity entries fails with core.ErrCacheFull; updating an
// existing key always succeeds.
type Cache struct {
	items    *cache.Cache
	capacity int
	ttl      time.Duration

	// mu serializes inserts of new keys so the capacity check and the
	// insert are one step. Lookups and in-place updates do not take it.
	mu sync.Mutex
}

type cacheEntry struct {
	key   Key
	state State
}

// NewCache creates a flow state cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	c := &Cache{
		items:    cache.New(cfg.TTL, cfg.CleanupInterval),
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
	}
	if cfg.OnEvict != nil {
		onEvict := cfg.OnEvict
		c.items.OnEvicted(func(_ string, v any) {
			if e, ok := v.(*cacheEntry); ok {
				onEvict(e.key)
			}
		})
	}
	return c
}

// Lookup returns a copy of the state recorded for key.
func (c *Cache) Lookup(key Key) (State, bool) {
	v, ok := c.items.Get(key.String())
	if !ok {
		return State{}, false
	}
	return v.(*cacheEntry).state, true
}

// Create inserts state for a key that is not yet present.
func (c *Cache) Create(key Key, state State) error {
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items.Get(k); ok {
		return fmt.Errorf("flow %s: %w", k, core.ErrFlowExists)
	}
	if c.items.ItemCount() >= c.capacity {
		return fmt.Errorf("flow %s: %w", k, core.ErrCacheFull)
	}
	c.items.Set(k, &cacheEntry{key: key, state: state}, c.ttl)
	return nil
}

// Record upserts state for key and refreshes its expiry.
func (c *Cache) Record(key Key, state State) error {
	k := key.String()
	entry := &cacheEntry{key: key, state: state}

	// Replace only succeeds for live keys and never grows the cache.
	if err := c.items.Replace(k, entry, c.ttl); err == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.items.Replace(k, entry, c.ttl) == nil {
		return nil
	}
	if c.items.ItemCount() >= c.capacity {
		return fmt.Errorf("flow %s: %w", k, core.ErrCacheFull)
	}
	c.items.Set(k, entry, c.ttl)
	return nil
}

// Delete removes key and fires the eviction hook.
func (c *Cache) Delete(key Key) {
	c.items.Delete(key.String())
}

// Len returns the number of cached flows, including expired flows not yet
// collected by the janitor.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Capacity returns the configured capacity.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Range calls fn for every unexpired flow in unspecified order.
func (c *Cache) Range(fn func(Key, State) bool) {
	for _, item := range c.items.Items() {
		e, ok := item.Object.(*cacheEntry)
		if !ok {
			continue
		}
		if !fn(e.key, e.state) {
			return
		}
	}
}

// Keys returns all unexpired keys in ascending order.
func (c *Cache) Keys() []Key {
	keys := make([]Key, 0, c.items.ItemCount())
	c.Range(func(k Key, _ State) bool {
		keys = append(keys, k)
		return true
	})
	slices.SortFunc(keys, Key.Compare)
	return keys
}

// NextKey returns the smallest key strictly greater than after, or the
// smallest key overall when after is nil.
func (c *Cache) NextKey(after *Key) (Key, bool) {
	var (
		best  Key
		found bool
	)
	c.Range(func(k Key, _ State) bool {
		if after != nil && k.Compare(*after) <= 0 {
			return true
		}
		if !found || k.Compare(best) < 0 {
			best, found = k, true
		}
		return true
	})
	return best, found
}

// Flush drops every flow without firing the eviction hook.
func (c *Cache) Flush() {
	c.items.Flush()
}
