package wal

import (
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/client/pkg/v3/fileutil"
)

// CurrentVersion is written into every newly created log header.
const CurrentVersion = 1

// Options configures Create/Open. Every field is a plain value rather
// than a collaborator interface, unlike the teacher's Config
// (StateDir/MaxSnapshotFiles/Logger) — there is nothing here worth
// mocking.
type Options struct {
	Dir  string
	DBID string

	// Term and Idx seed the log's snapshot boundary at creation time,
	// for bootstrapping a log against a snapshot installed before any
	// entry has been locally appended (RaftLogCreate's term/index
	// arguments). Both are zero for a log that starts empty.
	Term uint64
	Idx  uint64

	NoFsync   bool
	CacheSize int
}

// NotifyFunc is called once per entry a DeleteSuffix call discards,
// in descending index order, before the entry is evicted from the
// cache and the file is truncated underneath it.
type NotifyFunc func(e *Entry, idx uint64)

// Log is the facade spec.md §4.5 describes: a log file, an index
// file, and an entry cache, combined behind the fixed operation set of
// §6.3. It assumes a single caller (spec.md §5) and performs no
// internal locking beyond the advisory cross-process flock acquired
// in Create/Open.
type Log struct {
	opts   Options
	header logHeader
	count  int64

	idx   *indexFile
	file  *logFile
	cache *entryCache
	lock  *fileutil.LockedFile

	notify NotifyFunc
}

func logPath(dir string) string  { return filepath.Join(dir, "raftlog.dat") }
func idxPath(dir string) string  { return filepath.Join(dir, "raftlog.idx") }
func lockPath(dir string) string { return filepath.Join(dir, "raftlog.lock") }

func lockDir(dir string) (*fileutil.LockedFile, error) {
	lock, err := fileutil.TryLockFile(lockPath(dir), os.O_WRONLY|os.O_CREATE, fileutil.PrivateFileMode)
	if err != nil {
		return nil, errors.Wrapf(ErrLocked, "%s: %v", dir, err)
	}
	return lock, nil
}

// Create initializes a brand-new log in opts.Dir, which must not
// already contain a log file.
func Create(opts Options) (_ *Log, err error) {
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "raftlog: create directory %s", opts.Dir)
	}
	if fileutil.Exist(logPath(opts.Dir)) {
		return nil, errors.Errorf("raftlog: log already exists in %s", opts.Dir)
	}
	lock, err := lockDir(opts.Dir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			lock.Close()
		}
	}()

	idx, err := openIndexFile(idxPath(opts.Dir), opts.NoFsync)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			idx.close()
		}
	}()

	var h logHeader
	h.Version = CurrentVersion
	h.DBID = opts.DBID
	h.SnapshotLastTerm = opts.Term
	h.SnapshotLastIdx = opts.Idx
	h.Term = 1
	h.Vote = -1

	file, err := createLogFile(logPath(opts.Dir), h, opts.NoFsync)
	if err != nil {
		return nil, err
	}

	glog.Infof("raftlog: created log in %s (dbid=%s snapshot=(term=%d idx=%d))", opts.Dir, opts.DBID, opts.Term, opts.Idx)
	return &Log{
		opts:   opts,
		header: h,
		idx:    idx,
		file:   file,
		cache:  newEntryCache(opts.CacheSize),
		lock:   lock,
	}, nil
}

// Open opens an existing log in opts.Dir, replaying its entry records
// to rebuild the in-memory entry count and reconcile the index file
// against whatever the log file's tail actually contains.
func Open(opts Options) (_ *Log, err error) {
	lock, err := lockDir(opts.Dir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			lock.Close()
		}
	}()

	idx, err := openIndexFile(idxPath(opts.Dir), opts.NoFsync)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			idx.close()
		}
	}()

	file, h, err := openLogFile(logPath(opts.Dir), opts.NoFsync)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			file.close()
		}
	}()

	l := &Log{
		opts:   opts,
		header: h,
		idx:    idx,
		file:   file,
		cache:  newEntryCache(opts.CacheSize),
		lock:   lock,
	}

	count := int64(0)
	relIdx := int64(0)
	if err := file.loadEntries(func(offset int64, e *Entry) error {
		relIdx++
		if err := idx.put(relIdx, offset); err != nil {
			return err
		}
		entryIdx := h.SnapshotLastIdx + uint64(relIdx)
		l.cache.Append(e, entryIdx)
		e.Release()
		count++
		return nil
	}); err != nil {
		return nil, err
	}
	if err := idx.truncate(relIdx + 1); err != nil {
		return nil, err
	}
	l.count = count

	glog.Infof("raftlog: opened log in %s, recovered %d entries (first=%d current=%d)",
		opts.Dir, count, l.FirstIdx(), l.CurrentIdx())
	return l, nil
}

// SetNotify installs the callback DeleteSuffix reports discarded
// entries to. It is not part of spec.md §6.3's fixed operation set but
// is how the consensus adapter observes truncated entries, mirroring
// log.c's logImplPop callback argument.
func (l *Log) SetNotify(fn NotifyFunc) {
	l.notify = fn
}

// FirstIdx returns the snapshot boundary: the index just before the
// oldest entry the log can serve, since Get only serves indices in
// (FirstIdx(), CurrentIdx()]. Ported verbatim from
// RaftLogFirstIdx, which returns snapshot_last_idx unmodified — see
// DESIGN.md's addendum on the first_idx/poll_prefix worked example.
func (l *Log) FirstIdx() uint64 {
	return l.header.SnapshotLastIdx
}

// CurrentIdx returns the index of the most recently appended entry, or
// the snapshot boundary if the log holds no entries past it.
func (l *Log) CurrentIdx() uint64 {
	return l.header.SnapshotLastIdx + uint64(l.count)
}

// Count returns the number of entries currently stored past the
// snapshot boundary. Always equal to CurrentIdx()-FirstIdx().
func (l *Log) Count() int64 {
	return l.count
}

// Term returns the log's current term.
func (l *Log) Term() uint64 {
	return l.header.Term
}

// Vote returns the candidate id the log's current term voted for, or
// -1 if it has not voted.
func (l *Log) Vote() int64 {
	return l.header.Vote
}

// Append adds a new entry after the current tail and returns its
// assigned index.
func (l *Log) Append(term uint64, id uint64, typ uint32, data []byte) (uint64, error) {
	idx := l.CurrentIdx() + 1
	e := NewEntry(term, id, typ, data)
	defer e.Release()

	offset, err := l.file.appendEntry(e)
	if err != nil {
		return 0, err
	}
	relIdx := int64(idx - l.header.SnapshotLastIdx)
	if err := l.idx.put(relIdx, offset); err != nil {
		return 0, err
	}
	if err := l.idx.sync(); err != nil {
		return 0, err
	}
	l.cache.Append(e, idx)
	l.count++
	return idx, nil
}

// Get returns the entry at idx with a held reference the caller must
// Release. It returns ErrNotFound if idx is outside [FirstIdx()+1,
// CurrentIdx()].
func (l *Log) Get(idx uint64) (*Entry, error) {
	if idx <= l.FirstIdx() || idx > l.CurrentIdx() {
		return nil, errors.Wrapf(ErrNotFound, "index %d", idx)
	}
	if e, ok := l.cache.Get(idx); ok {
		return e, nil
	}
	relIdx := int64(idx - l.header.SnapshotLastIdx)
	offset, err := l.idx.get(relIdx)
	if err != nil {
		return nil, err
	}
	return l.file.readEntryAt(offset)
}

// GetBatch returns up to maxCount consecutive entries starting at
// from, stopping at the first miss — whether that's running past the
// log's current tail or hitting an index already below FirstIdx() —
// and returning whatever was collected so far rather than an error.
// Each returned entry holds a reference the caller must Release.
func (l *Log) GetBatch(from uint64, maxCount int) ([]*Entry, error) {
	var out []*Entry
	for i := 0; i < maxCount; i++ {
		idx := from + uint64(i)
		if idx > l.CurrentIdx() {
			break
		}
		e, err := l.Get(idx)
		if err != nil {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteSuffix (the log facade's "pop") discards every entry with
// index >= fromIdx. Entries are reported to the notify callback, in
// descending order, before the cache is evicted and the file is
// truncated underneath them, matching logImplPop's cache-then-file
// ordering from log.c.
func (l *Log) DeleteSuffix(fromIdx uint64) error {
	last := l.CurrentIdx()
	if fromIdx > last {
		return nil
	}
	if fromIdx <= l.FirstIdx() {
		return errors.Wrapf(ErrOutOfRange, "delete suffix at %d is at or below first index %d", fromIdx, l.FirstIdx())
	}

	if l.notify != nil {
		for idx := last; idx >= fromIdx; idx-- {
			e, err := l.Get(idx)
			if err != nil {
				continue
			}
			l.notify(e, idx)
			e.Release()
		}
	}

	if _, err := l.cache.DeleteTail(fromIdx); err != nil {
		return err
	}

	relIdx := int64(fromIdx - l.header.SnapshotLastIdx)
	offset, err := l.idx.get(relIdx)
	if err != nil {
		return err
	}
	if err := l.file.truncateAt(offset); err != nil {
		return err
	}
	if err := l.idx.truncate(relIdx); err != nil {
		return err
	}
	l.count = relIdx - 1
	glog.Infof("raftlog: deleted suffix from index %d, new current index %d", fromIdx, l.CurrentIdx())
	return nil
}

// PollPrefix advances the log's snapshot boundary to newFirstIdx,
// evicting every cache entry below it, and rewrites the log header
// with the new boundary. It leaves the entry records and the index
// file on disk as they are: the entries below the new boundary remain
// physically present until a future Reset (the durable compaction of
// those bytes is a snapshotting concern out of this module's scope).
func (l *Log) PollPrefix(newFirstIdx uint64) error {
	if newFirstIdx < l.FirstIdx() || newFirstIdx > l.CurrentIdx() {
		return errors.Wrapf(ErrOutOfRange, "poll prefix to %d", newFirstIdx)
	}
	if _, err := l.cache.DeleteHead(newFirstIdx); err != nil {
		return err
	}
	l.count = int64(l.CurrentIdx()) - int64(newFirstIdx)
	l.header.SnapshotLastIdx = newFirstIdx
	return l.file.rewriteHeader(l.header)
}

// Reset discards every entry and re-bases the log at snapshot boundary
// (idx, term), as happens when a snapshot is installed out of band.
// term becomes snapshot_last_term directly; the log's current term is
// only downgraded to term when it was strictly greater, and the vote
// is cleared along with it — matching RaftLogReset(log, index, term)
// exactly (log->index = log->snapshot_last_idx = index;
// log->snapshot_last_term = term; if (log->term > term) { log->term =
// term; log->vote = -1; }). The entry cache is replaced wholesale
// rather than incrementally evicted (logImplReset in log.c), since the
// new boundary can move arbitrarily and the old ring's bookkeeping is
// not worth preserving.
func (l *Log) Reset(idx uint64, term uint64) error {
	l.header.SnapshotLastIdx = idx
	l.header.SnapshotLastTerm = term
	if l.header.Term > term {
		l.header.Term = term
		l.header.Vote = -1
	}

	l.cache.Free()
	l.cache = newEntryCache(l.opts.CacheSize)
	l.count = 0

	if err := l.idx.reset(); err != nil {
		return err
	}
	if err := l.file.truncateAt(l.file.headerSize); err != nil {
		return err
	}
	glog.Infof("raftlog: reset to snapshot=(term=%d idx=%d)", term, idx)
	return l.file.rewriteHeader(l.header)
}

// SetTerm persists a new current term.
func (l *Log) SetTerm(term uint64) error {
	l.header.Term = term
	return l.file.rewriteHeader(l.header)
}

// SetVote persists the candidate id voted for in the current term,
// or -1 to clear it.
func (l *Log) SetVote(vote int64) error {
	l.header.Vote = vote
	return l.file.rewriteHeader(l.header)
}

// Close flushes and releases every open file, including the advisory
// cross-process lock acquired by Create/Open.
func (l *Log) Close() error {
	var firstErr error
	if err := l.file.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.idx.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	l.cache.Free()
	if err := l.lock.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrapf(err, "raftlog: release lock")
	}
	return firstErr
}
