package wal

import "github.com/pkg/errors"

// DefaultCacheSize is the entry cache's initial ring capacity,
// matching log.c's ENTRY_CACHE_INIT_SIZE.
const DefaultCacheSize = 512

// entryCache is the in-memory ring buffer of recently appended
// entries described by spec.md §4.4: a circular array of held entry
// references, addressable by the contiguous Raft index range
// [startIdx, startIdx+len). Ported from log.c's EntryCache* family.
// It is not safe for concurrent use; the log facade is the only
// caller, per spec.md §5's single-threaded cooperative model.
type entryCache struct {
	ptrs     []*Entry
	start    int // ring position of the entry at startIdx
	length   int
	startIdx uint64
}

func newEntryCache(size int) *entryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &entryCache{ptrs: make([]*Entry, size)}
}

// Append adds e as the entry for idx, which must be exactly
// startIdx+len (the next index after the cache's current tail) once
// the cache is non-empty. It takes a reference on e that Free,
// DeleteHead, or DeleteTail later releases.
func (c *entryCache) Append(e *Entry, idx uint64) {
	if c.length == 0 {
		c.startIdx = idx
	}
	if c.length == len(c.ptrs) {
		c.grow()
	}
	pos := (c.start + c.length) % len(c.ptrs)
	e.Hold()
	c.ptrs[pos] = e
	c.length++
}

// grow doubles the ring's capacity, relocating the wrapped-around
// portion of the buffer so the live range stays contiguous from
// c.start. Ported line-by-line from EntryCacheAppend's realloc path.
func (c *entryCache) grow() {
	oldSize := len(c.ptrs)
	newSize := oldSize * 2
	if newSize == 0 {
		newSize = DefaultCacheSize
	}
	newPtrs := make([]*Entry, newSize)
	copy(newPtrs, c.ptrs)
	if c.start > 0 {
		copy(newPtrs[oldSize:oldSize+c.start], c.ptrs[:c.start])
		for i := 0; i < c.start; i++ {
			newPtrs[i] = nil
		}
	}
	c.ptrs = newPtrs
}

// Get returns the cached entry for idx with an extra reference held on
// behalf of the caller, who must Release it. The second return value
// is false if idx is outside the cache's live range.
func (c *entryCache) Get(idx uint64) (*Entry, bool) {
	if c.length == 0 || idx < c.startIdx || idx >= c.startIdx+uint64(c.length) {
		return nil, false
	}
	pos := (c.start + int(idx-c.startIdx)) % len(c.ptrs)
	e := c.ptrs[pos]
	e.Hold()
	return e, true
}

// DeleteHead evicts every cached entry with index strictly less than
// newStartIdx, releasing each one's cache-held reference, and returns
// the number evicted. An entry at exactly newStartIdx, if cached, is
// kept. newStartIdx below the cache's current start index is an
// inconsistent request (it would rewind the cache backward) and
// returns ErrOutOfRange instead of silently moving startIdx.
func (c *entryCache) DeleteHead(newStartIdx uint64) (int, error) {
	if newStartIdx < c.startIdx {
		return 0, errors.Wrapf(ErrOutOfRange, "delete head to %d is below start index %d", newStartIdx, c.startIdx)
	}
	if newStartIdx == c.startIdx {
		return 0, nil
	}
	evict := int(newStartIdx - c.startIdx)
	if evict > c.length {
		evict = c.length
	}
	for i := 0; i < evict; i++ {
		c.ptrs[c.start].Release()
		c.ptrs[c.start] = nil
		c.start = (c.start + 1) % len(c.ptrs)
	}
	c.length -= evict
	c.startIdx = newStartIdx
	return evict, nil
}

// DeleteTail evicts every cached entry with index greater than or
// equal to fromIdx, releasing each one's cache-held reference, and
// returns the number evicted. Used by DeleteSuffix (pop) to keep the
// cache in step with a file truncation. fromIdx below the cache's
// held range is an inconsistent request and returns ErrOutOfRange;
// fromIdx at or beyond the cache's tail is a legitimate no-op.
func (c *entryCache) DeleteTail(fromIdx uint64) (int, error) {
	if c.length > 0 && fromIdx < c.startIdx {
		return 0, errors.Wrapf(ErrOutOfRange, "delete tail from %d is below start index %d", fromIdx, c.startIdx)
	}
	if c.length == 0 || fromIdx >= c.startIdx+uint64(c.length) {
		return 0, nil
	}
	keep := 0
	if fromIdx > c.startIdx {
		keep = int(fromIdx - c.startIdx)
	}
	evict := c.length - keep
	for i := 0; i < evict; i++ {
		pos := (c.start + c.length - 1) % len(c.ptrs)
		c.ptrs[pos].Release()
		c.ptrs[pos] = nil
		c.length--
	}
	return evict, nil
}

// Len reports the number of live entries currently cached.
func (c *entryCache) Len() int {
	return c.length
}

// Free releases every cached entry's reference and resets the ring to
// an empty state, used by Reset (log.c's logImplReset discards the
// cache wholesale rather than evicting it incrementally).
func (c *entryCache) Free() {
	for i := 0; i < c.length; i++ {
		pos := (c.start + i) % len(c.ptrs)
		c.ptrs[pos].Release()
		c.ptrs[pos] = nil
	}
	c.start = 0
	c.length = 0
	c.startIdx = 0
}
