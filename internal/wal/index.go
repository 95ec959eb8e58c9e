package wal

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// slotSize is the width, in bytes, of one index file slot: a native-
// endian uint64 byte offset into the log file. Native endianness is
// fine since spec.md §1 rules out cross-process/cross-host file
// sharing, matching log.c's raw off_t array on disk.
const slotSize = 8

// indexFile is the flat, randomly-addressable array of log-file byte
// offsets described by spec.md §4.2. Slot 0 is deliberately left
// unused so relIdx = idx - snapshotLastIdx can address it directly
// without an off-by-one; ported from log.c's updateIndex/seekEntry.
type indexFile struct {
	f        *os.File
	noFsync  bool
	slots    int64 // number of slots currently backing the file
}

func openIndexFile(path string, noFsync bool) (*indexFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "raftlog: open index file %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "raftlog: stat index file %s", path)
	}
	return &indexFile{f: f, noFsync: noFsync, slots: info.Size() / slotSize}, nil
}

// put records offset as the log-file position of relIdx, growing the
// file with WriteAt as needed; relIdx must be >= 1.
func (ix *indexFile) put(relIdx int64, offset int64) error {
	if relIdx < 1 {
		return errors.Wrapf(ErrOutOfRange, "index slot %d is reserved", relIdx)
	}
	var buf [slotSize]byte
	binary.NativeEndian.PutUint64(buf[:], uint64(offset))
	if _, err := ix.f.WriteAt(buf[:], relIdx*slotSize); err != nil {
		return errors.Wrapf(err, "raftlog: write index slot %d", relIdx)
	}
	if relIdx+1 > ix.slots {
		ix.slots = relIdx + 1
	}
	return nil
}

// get reads back the log-file offset stored for relIdx. ErrNotFound is
// returned for a slot beyond the file's current extent.
func (ix *indexFile) get(relIdx int64) (int64, error) {
	if relIdx < 1 || relIdx >= ix.slots {
		return 0, errors.Wrapf(ErrNotFound, "index slot %d", relIdx)
	}
	var buf [slotSize]byte
	if _, err := ix.f.ReadAt(buf[:], relIdx*slotSize); err != nil {
		return 0, errors.Wrapf(err, "raftlog: read index slot %d", relIdx)
	}
	return int64(binary.NativeEndian.Uint64(buf[:])), nil
}

// truncate drops every slot at or beyond relIdx, used by DeleteSuffix
// to discard the index entries of popped entries.
func (ix *indexFile) truncate(relIdx int64) error {
	if relIdx < 1 {
		relIdx = 1
	}
	if err := ix.f.Truncate(relIdx * slotSize); err != nil {
		return errors.Wrapf(err, "raftlog: truncate index file")
	}
	ix.slots = relIdx
	return nil
}

// reset discards the entire index, used when the snapshot boundary
// moves arbitrarily (RaftLogReset in log.c).
func (ix *indexFile) reset() error {
	if err := ix.f.Truncate(0); err != nil {
		return errors.Wrapf(err, "raftlog: reset index file")
	}
	ix.slots = 0
	return nil
}

func (ix *indexFile) sync() error {
	if ix.noFsync {
		return nil
	}
	if err := ix.f.Sync(); err != nil {
		return errors.Wrapf(err, "raftlog: fsync index file")
	}
	return nil
}

func (ix *indexFile) close() error {
	return ix.f.Close()
}
