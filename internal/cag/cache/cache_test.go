package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mediacore/internal/catalog"
)

func TestCachePutGetRoundTrips(t *testing.T) {
	c := New(1024)
	key := Key{PersonaID: "p1", GeneratorModelID: "m1", ChunkRecipeID: "v1", ContextFingerprint: "fp1"}
	c.Put(key, catalog.CagCacheEntry{PrefixState: []byte("state"), SizeBytes: 10})

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("state"), got.PrefixState)

	m := c.MetricsSnapshot()
	require.Equal(t, 1, m.Entries)
	require.EqualValues(t, 1, m.Hits)
}

func TestCacheMissIncrementsCounter(t *testing.T) {
	c := New(1024)
	_, ok := c.Get(Key{PersonaID: "none"})
	require.False(t, ok)
	require.EqualValues(t, 1, c.MetricsSnapshot().Misses)
}

func TestCacheEvictsLeastRecentlyUsedUnderCeiling(t *testing.T) {
	c := New(25)
	k1 := Key{ContextFingerprint: "a"}
	k2 := Key{ContextFingerprint: "b"}
	k3 := Key{ContextFingerprint: "c"}

	c.Put(k1, catalog.CagCacheEntry{SizeBytes: 10})
	c.Put(k2, catalog.CagCacheEntry{SizeBytes: 10})
	// Touch k1 so it's most-recently-used; k2 should be evicted next.
	_, _ = c.Get(k1)
	c.Put(k3, catalog.CagCacheEntry{SizeBytes: 10})

	_, k1ok := c.Get(k1)
	_, k2ok := c.Get(k2)
	_, k3ok := c.Get(k3)
	require.True(t, k1ok)
	require.False(t, k2ok)
	require.True(t, k3ok)
	require.GreaterOrEqual(t, c.MetricsSnapshot().Evictions, int64(1))
}

func TestCacheClearEmptiesAllEntries(t *testing.T) {
	c := New(1024)
	c.Put(Key{ContextFingerprint: "a"}, catalog.CagCacheEntry{SizeBytes: 5})
	c.Clear()
	require.Equal(t, 0, c.MetricsSnapshot().Entries)
}

func TestCacheEvictRemovesSingleKey(t *testing.T) {
	c := New(1024)
	k := Key{ContextFingerprint: "a"}
	c.Put(k, catalog.CagCacheEntry{SizeBytes: 5})
	c.Evict(k)
	_, ok := c.Get(k)
	require.False(t, ok)
}
