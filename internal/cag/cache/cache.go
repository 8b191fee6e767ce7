// Package cache implements the CagCacheEntry LRU store of spec §4.4: a
// byte-ceilinged, lock-guarded cache of reusable generator prefix state.
package cache

import (
	"container/list"
	"sync"
	"time"

	"mediacore/internal/catalog"
)

// Key identifies a reusable prefix, per spec §4.4: persona, model, chunk
// recipe and a normalized fingerprint of the assembled context.
type Key struct {
	PersonaID          string
	GeneratorModelID   string
	ChunkRecipeID      string
	ContextFingerprint string
}

type entry struct {
	key   Key
	value catalog.CagCacheEntry
}

// Metrics snapshots the cache's current occupancy, for cmd/core's
// `cache metrics` operation.
type Metrics struct {
	Entries      int
	Bytes        int64
	CeilingBytes int64
	Hits         int64
	Misses       int64
	Evictions    int64
}

// Cache is a linearizable LRU keyed on Key, bounded by a byte ceiling.
// get/put/evict/clear/metrics all take the same lock, per spec §5's
// "guarded by an internal lock" requirement.
type Cache struct {
	mu      sync.Mutex
	ceiling int64
	size    int64
	ll      *list.List // front = most recently used
	items   map[Key]*list.Element

	hits, misses, evictions int64
}

// New constructs a Cache with the given byte ceiling (default 256 MiB per
// spec §4.4 if ceilingBytes <= 0).
func New(ceilingBytes int64) *Cache {
	if ceilingBytes <= 0 {
		ceilingBytes = 256 * 1024 * 1024
	}
	return &Cache{
		ceiling: ceilingBytes,
		ll:      list.New(),
		items:   map[Key]*list.Element{},
	}
}

// Get returns the cached prefix state for key, if present, and marks it
// most-recently-used.
func (c *Cache) Get(key Key) (catalog.CagCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return catalog.CagCacheEntry{}, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	e := el.Value.(*entry)
	e.value.LastUsed = now()
	return e.value, true
}

// Put inserts or replaces the entry for key, evicting least-recently-used
// entries until the size ceiling is respected.
func (c *Cache) Put(key Key, value catalog.CagCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value.Key = fingerprintString(key)
	value.LastUsed = now()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.size -= old.value.SizeBytes
		old.value = value
		c.size += value.SizeBytes
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&entry{key: key, value: value})
		c.items[key] = el
		c.size += value.SizeBytes
	}

	for c.size > c.ceiling && c.ll.Len() > 0 {
		c.evictOldestLocked()
	}
}

// Load seeds the cache from persisted records, e.g. after reopening a store
// in a fresh CLI process; entries are inserted oldest-first so the last
// record ends up most-recently-used.
func (c *Cache) Load(records []catalog.CacheRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		key := Key{
			PersonaID:          r.PersonaID,
			GeneratorModelID:   r.GeneratorModelID,
			ChunkRecipeID:      r.ChunkRecipeID,
			ContextFingerprint: r.ContextFingerprint,
		}
		if el, ok := c.items[key]; ok {
			c.removeLocked(el)
		}
		el := c.ll.PushFront(&entry{key: key, value: r.Entry})
		c.items[key] = el
		c.size += r.Entry.SizeBytes
	}
}

// Evict removes a single entry by key, if present.
func (c *Cache) Evict(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

func (c *Cache) evictOldestLocked() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.removeLocked(el)
	c.evictions++
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.size -= e.value.SizeBytes
}

// Clear empties the cache; safe to call at any time per spec §4.4.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.items = map[Key]*list.Element{}
	c.size = 0
}

// MetricsSnapshot reports current occupancy and lifetime counters.
func (c *Cache) MetricsSnapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		Entries:      c.ll.Len(),
		Bytes:        c.size,
		CeilingBytes: c.ceiling,
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
	}
}

func fingerprintString(k Key) string {
	return k.PersonaID + "|" + k.GeneratorModelID + "|" + k.ChunkRecipeID + "|" + k.ContextFingerprint
}

// now is a seam so tests can avoid relying on wall-clock ordering; tests
// that need LastUsed monotonicity call entries in sequence and don't
// compare timestamps across Cache instances.
func now() (t time.Time) { return time.Now() }
