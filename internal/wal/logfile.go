package wal

import (
	"bufio"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// headerMagic is the literal tag every header record must begin with.
const headerMagic = "RAFTLOG"

// entryMagic is the literal tag every entry record must begin with.
const entryMagic = "ENTRY"

// headerFieldCount is the number of elements in the header record:
// magic, version, dbid, snapshot_last_term, snapshot_last_idx, term,
// vote.
const headerFieldCount = 7

// entryFieldCount is the number of elements in an entry record: magic,
// term, id, type, data.
const entryFieldCount = 5

// logHeader is the log file's single, rewritable metadata record.
// DBID's encoded length never changes across rewrites because its
// value is fixed at creation time, so the record's total byte length
// stays constant even though DBID itself is not zero-padded — the
// property that makes in-place rewrite safe (log.c's
// prepareLog/writeLogHeader/updateLogHeader).
type logHeader struct {
	Version          uint64
	DBID             string
	SnapshotLastTerm uint64
	SnapshotLastIdx  uint64
	Term             uint64
	Vote             int64
}

func writeHeaderRecord(w *bufio.Writer, h logHeader) (int, error) {
	total := 0
	n, err := writeArrayHeader(w, headerFieldCount)
	if err != nil {
		return 0, err
	}
	total += n
	steps := []func() (int, error){
		func() (int, error) { return writeBulk(w, []byte(headerMagic)) },
		func() (int, error) { return writeUnsignedField(w, h.Version, 4) },
		func() (int, error) { return writeBulk(w, []byte(h.DBID)) },
		func() (int, error) { return writeUnsignedField(w, h.SnapshotLastTerm, 20) },
		func() (int, error) { return writeUnsignedField(w, h.SnapshotLastIdx, 20) },
		func() (int, error) { return writeUnsignedField(w, h.Term, 20) },
		func() (int, error) { return writeSignedField(w, h.Vote, 11) },
	}
	for _, step := range steps {
		n, err := step()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func parseHeaderRecord(fields [][]byte) (logHeader, error) {
	var h logHeader
	if len(fields) != headerFieldCount {
		return h, errors.Wrapf(ErrMalformedRecord, "header has %d fields, want %d", len(fields), headerFieldCount)
	}
	if string(fields[0]) != headerMagic {
		return h, errors.Wrapf(ErrMalformedRecord, "header tag mismatch: got %q, want %q", fields[0], headerMagic)
	}
	var err error
	if h.Version, err = parseUnsignedField(fields[1]); err != nil {
		return h, errors.Wrapf(ErrMalformedRecord, "header version: %v", err)
	}
	if h.Version != CurrentVersion {
		return h, errors.Wrapf(ErrMalformedRecord, "header version mismatch: got %d, want %d", h.Version, CurrentVersion)
	}
	h.DBID = string(fields[2])
	if h.SnapshotLastTerm, err = parseUnsignedField(fields[3]); err != nil {
		return h, errors.Wrapf(ErrMalformedRecord, "header snapshot term: %v", err)
	}
	if h.SnapshotLastIdx, err = parseUnsignedField(fields[4]); err != nil {
		return h, errors.Wrapf(ErrMalformedRecord, "header snapshot index: %v", err)
	}
	if h.Term, err = parseUnsignedField(fields[5]); err != nil {
		return h, errors.Wrapf(ErrMalformedRecord, "header term: %v", err)
	}
	if h.Vote, err = parseSignedField(fields[6]); err != nil {
		return h, errors.Wrapf(ErrMalformedRecord, "header vote: %v", err)
	}
	return h, nil
}

func writeEntryRecord(w *bufio.Writer, e *Entry) (int, error) {
	total := 0
	n, err := writeArrayHeader(w, entryFieldCount)
	if err != nil {
		return 0, err
	}
	total += n
	for _, step := range []func() (int, error){
		func() (int, error) { return writeBulk(w, []byte(entryMagic)) },
		func() (int, error) { return writeUnsignedField(w, e.Term, 0) },
		func() (int, error) { return writeUnsignedField(w, e.ID, 0) },
		func() (int, error) { return writeUnsignedField(w, uint64(e.Type), 0) },
		func() (int, error) { return writeBulk(w, e.Data) },
	} {
		n, err := step()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func parseEntryRecord(fields [][]byte) (*Entry, error) {
	if len(fields) != entryFieldCount {
		return nil, errors.Wrapf(ErrMalformedRecord, "entry has %d fields, want %d", len(fields), entryFieldCount)
	}
	if string(fields[0]) != entryMagic {
		return nil, errors.Wrapf(ErrMalformedRecord, "entry tag mismatch: got %q, want %q", fields[0], entryMagic)
	}
	term, err := parseUnsignedField(fields[1])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "entry term: %v", err)
	}
	id, err := parseUnsignedField(fields[2])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "entry id: %v", err)
	}
	typ, err := parseUnsignedField(fields[3])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "entry type: %v", err)
	}
	data := make([]byte, len(fields[4]))
	copy(data, fields[4])
	return NewEntry(term, id, uint32(typ), data), nil
}

// logFile is the append-mostly record file of spec.md §4.3: a header
// record followed by a sequence of entry records. It is opened once in
// read/write mode (never O_APPEND) and tracks its own logical write
// offset, so a header rewrite can be done with a single positional
// write instead of the close/reopen dance log.c's updateLogHeader
// performs around C stdio's buffered append semantics (sanctioned by
// spec.md §9).
type logFile struct {
	f          *os.File
	w          *bufio.Writer
	noFsync    bool
	headerSize int64
	offset     int64 // logical end-of-file / next append position
}

func createLogFile(path string, h logHeader, noFsync bool) (*logFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "raftlog: create log file %s", path)
	}
	w := bufio.NewWriter(f)
	n, err := writeHeaderRecord(w, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "raftlog: flush log header")
	}
	lf := &logFile{f: f, w: w, noFsync: noFsync, headerSize: int64(n), offset: int64(n)}
	if err := lf.syncFile(); err != nil {
		f.Close()
		return nil, err
	}
	return lf, nil
}

// openLogFile opens an existing log file, reads its header, and
// returns it with its write offset just past the header. Callers
// follow up with loadEntries, which replays entry records and moves
// the write offset after the last good one.
func openLogFile(path string, noFsync bool) (*logFile, logHeader, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, logHeader{}, errors.Wrapf(err, "raftlog: open log file %s", path)
	}
	r := bufio.NewReader(f)
	fields, n, err := readRecord(r)
	if err != nil {
		f.Close()
		return nil, logHeader{}, errors.Wrapf(ErrMalformedRecord, "raftlog: read log header: %v", err)
	}
	h, err := parseHeaderRecord(fields)
	if err != nil {
		f.Close()
		return nil, logHeader{}, err
	}
	lf := &logFile{f: f, w: bufio.NewWriter(f), noFsync: noFsync, headerSize: int64(n), offset: int64(n)}
	return lf, h, nil
}

// loadEntries replays every entry record starting after the header,
// invoking cb with each entry's starting offset. The first record that
// fails to read or parse ends the load and is treated as a torn write
// from a prior crash: the file is truncated back to the last good
// offset (dropping anything after it) rather than surfaced as an
// error, matching RaftLogLoadEntries' tolerance for a partial trailing
// record.
func (lf *logFile) loadEntries(cb func(offset int64, e *Entry) error) error {
	if _, err := lf.f.Seek(lf.headerSize, io.SeekStart); err != nil {
		return errors.Wrapf(err, "raftlog: seek past log header")
	}
	r := bufio.NewReader(lf.f)
	offset := lf.headerSize
	for {
		fields, n, err := readRecord(r)
		if err != nil {
			if err == io.EOF || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			glog.Warningf("raftlog: truncating torn record at offset %d: %v", offset, err)
			break
		}
		e, err := parseEntryRecord(fields)
		if err != nil {
			glog.Warningf("raftlog: truncating malformed record at offset %d: %v", offset, err)
			break
		}
		if err := cb(offset, e); err != nil {
			return err
		}
		offset += int64(n)
	}
	return lf.truncateAt(offset)
}

// appendEntry writes e as the next record and returns the byte offset
// it was written at.
func (lf *logFile) appendEntry(e *Entry) (int64, error) {
	start := lf.offset
	n, err := writeEntryRecord(lf.w, e)
	if err != nil {
		return 0, err
	}
	if err := lf.w.Flush(); err != nil {
		return 0, errors.Wrapf(err, "raftlog: flush log entry")
	}
	if err := lf.syncFile(); err != nil {
		return 0, err
	}
	lf.offset = start + int64(n)
	return start, nil
}

// readEntryAt decodes the entry record beginning at offset without
// disturbing the file's append position.
func (lf *logFile) readEntryAt(offset int64) (*Entry, error) {
	sr := io.NewSectionReader(lf.f, offset, lf.offset-offset)
	r := bufio.NewReader(sr)
	fields, _, err := readRecord(r)
	if err != nil {
		return nil, errors.Wrapf(err, "raftlog: read entry at offset %d", offset)
	}
	return parseEntryRecord(fields)
}

// rewriteHeader overwrites the header record in place. Because the
// header is fixed-width, this is always a single positional write of
// exactly headerSize bytes at offset 0; WriteAt does not disturb the
// file's sequential write cursor, so no seek/seek-back is needed
// around it. Any pending buffered entry bytes are flushed first so the
// file's visible length is never shorter than lf.offset.
func (lf *logFile) rewriteHeader(h logHeader) error {
	if err := lf.w.Flush(); err != nil {
		return errors.Wrapf(err, "raftlog: flush before header rewrite")
	}
	buf := make([]byte, 0, lf.headerSize)
	bw := bufio.NewWriter(sliceWriter{&buf})
	n, err := writeHeaderRecord(bw, h)
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrapf(err, "raftlog: encode rewritten header")
	}
	if int64(n) != lf.headerSize {
		glog.Fatalf("raftlog: rewritten header size %d != original %d", n, lf.headerSize)
	}
	if _, err := lf.f.WriteAt(buf, 0); err != nil {
		glog.Fatalf("raftlog: header rewrite failed: %v", err)
	}
	if err := lf.syncFile(); err != nil {
		return err
	}
	return nil
}

// truncateAt discards everything at or beyond offset, used by
// DeleteSuffix to drop popped entries from the file, and repositions
// the write cursor there so the next appendEntry lands correctly.
func (lf *logFile) truncateAt(offset int64) error {
	if err := lf.w.Flush(); err != nil {
		return errors.Wrapf(err, "raftlog: flush before truncate")
	}
	if err := lf.f.Truncate(offset); err != nil {
		return errors.Wrapf(err, "raftlog: truncate log file")
	}
	if _, err := lf.f.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrapf(err, "raftlog: seek after truncate")
	}
	lf.offset = offset
	return nil
}

func (lf *logFile) syncFile() error {
	if lf.noFsync {
		return nil
	}
	if err := lf.f.Sync(); err != nil {
		return errors.Wrapf(err, "raftlog: fsync log file")
	}
	return nil
}

func (lf *logFile) close() error {
	if err := lf.w.Flush(); err != nil {
		lf.f.Close()
		return errors.Wrapf(err, "raftlog: flush log file on close")
	}
	return lf.f.Close()
}

// sliceWriter adapts a *[]byte to io.Writer for encoding the rewritten
// header into a fixed in-memory buffer before the single WriteAt call.
type sliceWriter struct {
	buf *[]byte
}

func (s sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}
