package raftlog

import "github.com/raftlogd/raftlog/internal/wal"

// Options configures Create and Open. Every field is a plain value:
// unlike the disk-storage Config this package's shape is grounded on,
// there is no Logger or Dial collaborator here worth expressing as an
// interface.
type Options struct {
	// Dir is the directory the log and index files live in. Create
	// creates it if it does not already exist; Open does not.
	Dir string

	// DBID identifies the Raft cluster/replica this log belongs to. It
	// is stored in the log header.
	DBID string

	// Term and Idx seed the log's snapshot boundary when Create starts
	// a brand-new log, for bootstrapping against a snapshot installed
	// before any entry has been locally appended. Both are zero for a
	// log that starts empty. Ignored by Open.
	Term uint64
	Idx  uint64

	// NoFsync disables fsync after every write boundary, trading
	// durability for throughput. Data is still flushed to the OS, just
	// not forced to stable storage.
	NoFsync bool

	// CacheSize sets the entry cache's initial ring capacity. Zero
	// selects DefaultCacheSize.
	CacheSize int
}

// DefaultCacheSize is the entry cache's initial ring capacity when
// Options.CacheSize is left at zero.
const DefaultCacheSize = wal.DefaultCacheSize

func (o Options) toWAL() wal.Options {
	return wal.Options{
		Dir:       o.Dir,
		DBID:      o.DBID,
		Term:      o.Term,
		Idx:       o.Idx,
		NoFsync:   o.NoFsync,
		CacheSize: o.CacheSize,
	}
}
