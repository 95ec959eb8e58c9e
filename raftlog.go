// Package raftlog implements a persistent, append-mostly Raft log
// paired with an in-memory entry cache: the durable log substrate for
// a single consensus replica. It assumes a single caller and no
// internal concurrency; see Options and the Log type.
package raftlog

import "github.com/raftlogd/raftlog/internal/wal"

// Entry is a single persistent log record.
type Entry = wal.Entry

// NotifyFunc is invoked once per entry Pop discards, in descending
// index order, before the entry is evicted from the cache and the
// underlying file is truncated beneath it.
type NotifyFunc = wal.NotifyFunc

// Log is a handle on an open Raft log. It is not safe for concurrent
// use by more than one goroutine, and Create/Open hold an advisory
// cross-process file lock for as long as the Log is open.
type Log struct {
	l *wal.Log
}

// Create initializes a brand-new log in opts.Dir, which must not
// already contain one.
func Create(opts Options) (*Log, error) {
	l, err := wal.Create(opts.toWAL())
	if err != nil {
		return nil, err
	}
	return &Log{l: l}, nil
}

// Open opens an existing log in opts.Dir, replaying it to recover the
// in-memory entry cache and counters.
func Open(opts Options) (*Log, error) {
	l, err := wal.Open(opts.toWAL())
	if err != nil {
		return nil, err
	}
	return &Log{l: l}, nil
}

// SetNotify installs fn as the callback Pop reports discarded entries
// to. It replaces any previously installed callback.
func (lg *Log) SetNotify(fn NotifyFunc) {
	lg.l.SetNotify(fn)
}

// Append adds a new entry after the log's current tail and returns
// its assigned index.
func (lg *Log) Append(term, id uint64, typ uint32, data []byte) (uint64, error) {
	return lg.l.Append(term, id, typ, data)
}

// Get returns the entry at idx with a reference the caller must
// Release.
func (lg *Log) Get(idx uint64) (*Entry, error) {
	return lg.l.Get(idx)
}

// GetBatch returns up to maxCount consecutive entries starting at
// from, stopping early at the log's current tail. Each entry holds a
// reference the caller must Release.
func (lg *Log) GetBatch(from uint64, maxCount int) ([]*Entry, error) {
	return lg.l.GetBatch(from, maxCount)
}

// Pop discards every entry with index >= fromIdx.
func (lg *Log) Pop(fromIdx uint64) error {
	return lg.l.DeleteSuffix(fromIdx)
}

// Poll advances the log's snapshot boundary to newFirstIdx and records
// it in the log header; entries below the boundary are evicted from
// the cache but remain on disk until a future Reset.
func (lg *Log) Poll(newFirstIdx uint64) error {
	return lg.l.PollPrefix(newFirstIdx)
}

// Reset discards every entry and re-bases the log at snapshot boundary
// (idx, term), as happens when a snapshot is installed out of band.
// The log's current term is only downgraded to term when it was
// strictly greater, clearing the vote along with it; otherwise both
// are left untouched.
func (lg *Log) Reset(idx, term uint64) error {
	return lg.l.Reset(idx, term)
}

// SetTerm persists a new current term.
func (lg *Log) SetTerm(term uint64) error {
	return lg.l.SetTerm(term)
}

// SetVote persists the candidate id voted for in the current term, or
// -1 to clear it.
func (lg *Log) SetVote(vote int64) error {
	return lg.l.SetVote(vote)
}

// Term returns the log's current term.
func (lg *Log) Term() uint64 {
	return lg.l.Term()
}

// Vote returns the candidate id voted for in the current term, or -1.
func (lg *Log) Vote() int64 {
	return lg.l.Vote()
}

// FirstIdx returns the index of the log's snapshot boundary.
func (lg *Log) FirstIdx() uint64 {
	return lg.l.FirstIdx()
}

// CurrentIdx returns the index of the most recently appended entry.
func (lg *Log) CurrentIdx() uint64 {
	return lg.l.CurrentIdx()
}

// Count returns the number of entries currently stored past the
// snapshot boundary.
func (lg *Log) Count() int64 {
	return lg.l.Count()
}

// Close flushes and releases every open file, including the advisory
// cross-process lock acquired by Create/Open.
func (lg *Log) Close() error {
	return lg.l.Close()
}
