package lru_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/lru"
)

const (
	// smallMaxEntries limits the cache to 3 entries for eviction tests.
	smallMaxEntries = 3

	// fillCount overflows a small cache many times.
	fillCount = 1000
)

func TestCache_GetPut(t *testing.T) {
	t.Parallel()

	c := lru.New[string, int](smallMaxEntries)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Put("a", 10)

	v, ok = c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, c.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := lru.New[string, int](smallMaxEntries)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the eviction victim.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", 4)

	_, ok = c.Get("b")
	assert.False(t, ok)

	for _, key := range []string{"a", "c", "d"} {
		_, ok = c.Get(key)
		assert.True(t, ok, key)
	}

	assert.Equal(t, smallMaxEntries, c.Len())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_BoundedUnderChurn(t *testing.T) {
	t.Parallel()

	c := lru.New[int, string](smallMaxEntries)

	for i := range fillCount {
		c.Put(i, fmt.Sprint(i))
		assert.LessOrEqual(t, c.Len(), smallMaxEntries)
	}

	for i := fillCount - smallMaxEntries; i < fillCount; i++ {
		v, ok := c.Get(i)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprint(i), v)
	}

	assert.Equal(t, int64(fillCount-smallMaxEntries), c.Stats().Evictions)
}

func TestCache_SingleEntry(t *testing.T) {
	t.Parallel()

	c := lru.New[string, int](1)

	c.Put("a", 1)
	c.Put("b", 2)

	_, ok := c.Get("a")
	assert.False(t, ok)

	v, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_Clear(t *testing.T) {
	t.Parallel()

	c := lru.New[string, int](smallMaxEntries)
	c.Put("a", 1)
	c.Clear()

	assert.Equal(t, 0, c.Len())

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("b", 2)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()

	c := lru.New[string, int](smallMaxEntries)

	assert.InDelta(t, 0.0, c.Stats().HitRate(), 0)

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()

	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, smallMaxEntries, stats.MaxEntries)
	assert.InDelta(t, 0.75, stats.HitRate(), 1e-9)
}

func TestNew_PanicsWithoutCapacity(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { lru.New[string, int](0) })
}

func BenchmarkCache_GetHit(b *testing.B) {
	c := lru.New[int, int](1024)
	for i := range 1024 {
		c.Put(i, i)
	}

	b.ResetTimer()

	for i := range b.N {
		c.Get(i & 1023)
	}
}
