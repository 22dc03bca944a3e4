package systemdmanager

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultEnabledCacheTTL        = 5 * time.Minute
	defaultEnabledCacheMax        = 512
	defaultEnabledCacheSweepEvery = 64
)

type enabledCacheEntry struct {
	enabled bool
	expires time.Time
}

// enabledCache memoizes is-enabled lookups, which are expensive over D-Bus.
//
// ttl == 0 uses the default TTL; ttl < 0 disables caching.
type enabledCache struct {
	mu      sync.Mutex
	entries map[string]enabledCacheEntry
	ttl     time.Duration
	max     int
	sweep   uint64
	ops     uint64
}

func newEnabledCache() *enabledCache {
	return &enabledCache{
		entries: map[string]enabledCacheEntry{},
		ttl:     defaultEnabledCacheTTL,
		max:     defaultEnabledCacheMax,
		sweep:   defaultEnabledCacheSweepEvery,
	}
}

func (c *enabledCache) effectiveTTL() time.Duration {
	if c.ttl == 0 {
		return defaultEnabledCacheTTL
	}
	return c.ttl
}

func (c *enabledCache) get(name string, now time.Time) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.effectiveTTL() < 0 {
		return false, false
	}
	ent, ok := c.entries[name]
	if !ok || !now.Before(ent.expires) {
		return false, false
	}
	return ent.enabled, true
}

func (c *enabledCache) put(name string, enabled bool, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ttl := c.effectiveTTL()
	if ttl < 0 {
		return
	}
	if c.entries == nil {
		c.entries = map[string]enabledCacheEntry{}
	}
	c.entries[name] = enabledCacheEntry{enabled: enabled, expires: now.Add(ttl)}
	c.ops++
	if len(c.entries) > c.limit() || (c.sweep > 0 && c.ops%c.sweep == 0) {
		c.pruneLocked(now)
	}
}

// invalidate drops name; enable/disable change the answer.
func (c *enabledCache) invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

func (c *enabledCache) setTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
	c.ops = 0
	clear(c.entries)
}

func (c *enabledCache) limit() int {
	if c.max <= 0 {
		return defaultEnabledCacheMax
	}
	return c.max
}

func (c *enabledCache) pruneLocked(now time.Time) {
	for k, ent := range c.entries {
		if now.After(ent.expires) {
			delete(c.entries, k)
		}
	}
	max := c.limit()
	if len(c.entries) <= max {
		return
	}
	// Still too large: drop the entries expiring first.
	type kv struct {
		k string
		e time.Time
	}
	items := make([]kv, 0, len(c.entries))
	for k, ent := range c.entries {
		items = append(items, kv{k: k, e: ent.expires})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].e.Before(items[j].e) })
	excess := len(c.entries) - max
	for i := 0; i < excess && i < len(items); i++ {
		delete(c.entries, items[i].k)
	}
}
