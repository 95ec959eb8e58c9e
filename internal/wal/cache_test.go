package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// appendOne constructs a one-off entry, hands it to the cache, and
// releases the construction reference, leaving the cache as the sole
// owner — the same hand-off pattern Log.Append uses.
func appendOne(c *entryCache, idx uint64) {
	e := NewEntry(1, idx, 0, nil)
	c.Append(e, idx)
	e.Release()
}

func appendN(c *entryCache, start, n uint64) {
	for i := uint64(0); i < n; i++ {
		appendOne(c, start+i)
	}
}

func TestEntryCacheAppendAndGet(t *testing.T) {
	c := newEntryCache(4)
	appendN(c, 1, 3)
	require.Equal(t, 3, c.Len())

	e, ok := c.Get(2)
	require.True(t, ok)
	require.EqualValues(t, 2, e.ID)
	require.EqualValues(t, 2, e.RefCount()) // cache's ref + this Get's ref
	e.Release()

	_, ok = c.Get(99)
	require.False(t, ok)
}

func TestEntryCacheGrowsAndRelocatesWrappedRegion(t *testing.T) {
	c := newEntryCache(2)
	appendN(c, 1, 2) // fills the ring: start=0, len=2
	evicted, err := c.DeleteHead(2)
	require.NoError(t, err)
	require.Equal(t, 1, evicted) // evict index 1, start advances to 1
	appendOne(c, 3)
	require.Equal(t, 2, c.Len()) // indices 2,3, wrapped: start=1

	appendOne(c, 4) // triggers growth past capacity 2
	require.Equal(t, 3, c.Len())

	for idx := uint64(2); idx <= 4; idx++ {
		e, ok := c.Get(idx)
		require.True(t, ok, "index %d", idx)
		require.EqualValues(t, idx, e.ID)
		e.Release()
	}
}

func TestEntryCacheDeleteHeadReleasesEvicted(t *testing.T) {
	c := newEntryCache(8)
	appendN(c, 1, 5)

	evicted, err := c.DeleteHead(3)
	require.NoError(t, err)
	require.Equal(t, 2, evicted)
	require.Equal(t, 3, c.Len())
	_, ok := c.Get(2)
	require.False(t, ok)
	e, ok := c.Get(3)
	require.True(t, ok)
	require.EqualValues(t, 1, e.RefCount())
	e.Release()
}

func TestEntryCacheDeleteTailReleasesEvicted(t *testing.T) {
	c := newEntryCache(8)
	appendN(c, 1, 5)

	evicted, err := c.DeleteTail(3)
	require.NoError(t, err)
	require.Equal(t, 3, evicted)
	require.Equal(t, 2, c.Len())
	_, ok := c.Get(3)
	require.False(t, ok)
	e, ok := c.Get(2)
	require.True(t, ok)
	e.Release()
}

func TestEntryCacheFreeReleasesEverything(t *testing.T) {
	c := newEntryCache(8)
	es := make([]*Entry, 0, 5)
	for i := uint64(1); i <= 5; i++ {
		e := NewEntry(1, i, 0, nil)
		c.Append(e, i) // cache holds its own reference; e keeps its constructor reference
		es = append(es, e)
	}
	c.Free()
	require.Equal(t, 0, c.Len())
	for _, e := range es {
		require.EqualValues(t, 1, e.RefCount()) // constructor reference survives; cache's was released
	}
}

func TestEntryCacheDeleteHeadRejectsBelowStartIndex(t *testing.T) {
	c := newEntryCache(8)
	appendN(c, 5, 3) // startIdx=5

	_, err := c.DeleteHead(4)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, 3, c.Len())
}

func TestEntryCacheDeleteTailRejectsBelowStartIndex(t *testing.T) {
	c := newEntryCache(8)
	appendN(c, 5, 3) // startIdx=5

	_, err := c.DeleteTail(4)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, 3, c.Len())
}

func TestEntryReleaseWithoutHoldPanics(t *testing.T) {
	e := NewEntry(1, 1, 0, nil)
	e.Release()
	require.Panics(t, func() { e.Release() })
}
