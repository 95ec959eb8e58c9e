package wal

import "sync/atomic"

// Entry is a single persistent log record: a term, a caller-assigned
// id, a small type tag the consensus layer interprets, and an opaque
// payload. Entries are reference counted rather than copied: the cache
// holds one reference per cached entry and releases it on eviction or
// teardown, mirroring raft_entry_hold/raft_entry_release in log.c.
type Entry struct {
	Term uint64
	ID   uint64
	Type uint32
	Data []byte

	refs int32
}

// NewEntry returns an Entry with a single reference owned by the
// caller.
func NewEntry(term, id uint64, typ uint32, data []byte) *Entry {
	return &Entry{Term: term, ID: id, Type: typ, Data: data, refs: 1}
}

// Hold increments the entry's reference count on behalf of a new
// holder.
func (e *Entry) Hold() {
	atomic.AddInt32(&e.refs, 1)
}

// Release drops a reference acquired via NewEntry, Hold, or a Get that
// returned this entry. It panics on an unbalanced release, since that
// indicates a bookkeeping bug rather than a recoverable condition.
func (e *Entry) Release() {
	if atomic.AddInt32(&e.refs, -1) < 0 {
		panic("raftlog: entry released more times than held")
	}
}

// RefCount reports the entry's current reference count. It exists for
// tests to assert on cache hold/release bookkeeping (spec invariant:
// every cached index maps to a held entry reference).
func (e *Entry) RefCount() int32 {
	return atomic.LoadInt32(&e.refs)
}
