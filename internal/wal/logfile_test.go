package wal

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHeader(dbid string) logHeader {
	var h logHeader
	h.Version = CurrentVersion
	h.DBID = dbid
	h.Term = 1
	h.Vote = -1
	return h
}

func TestLogFileCreateAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raftlog.dat")
	lf, err := createLogFile(path, testHeader("cluster-a"), true)
	require.NoError(t, err)
	defer lf.close()

	e1 := NewEntry(1, 1, 0, []byte("one"))
	off1, err := lf.appendEntry(e1)
	require.NoError(t, err)
	require.Equal(t, lf.headerSize, off1)

	e2 := NewEntry(1, 2, 0, []byte("two"))
	off2, err := lf.appendEntry(e2)
	require.NoError(t, err)
	require.Greater(t, off2, off1)

	got, err := lf.readEntryAt(off1)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got.Data)

	got, err = lf.readEntryAt(off2)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got.Data)
}

func TestLogFileHeaderRewriteIsInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raftlog.dat")
	h := testHeader("cluster-a")
	lf, err := createLogFile(path, h, true)
	require.NoError(t, err)
	defer lf.close()

	_, err = lf.appendEntry(NewEntry(1, 1, 0, []byte("payload")))
	require.NoError(t, err)
	sizeBefore := lf.offset

	h.Term = 9
	h.Vote = 3
	require.NoError(t, lf.rewriteHeader(h))
	require.Equal(t, sizeBefore, lf.offset, "rewriting the header must not move the append cursor")

	e2 := NewEntry(9, 2, 0, []byte("more"))
	off2, err := lf.appendEntry(e2)
	require.NoError(t, err)
	require.Equal(t, sizeBefore, off2)

	got, err := lf.readEntryAt(off2)
	require.NoError(t, err)
	require.Equal(t, []byte("more"), got.Data)
}

func TestOpenLogFileAndLoadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raftlog.dat")
	h := testHeader("cluster-b")
	lf, err := createLogFile(path, h, true)
	require.NoError(t, err)
	for i := uint64(1); i <= 3; i++ {
		_, err := lf.appendEntry(NewEntry(1, i, 0, []byte{byte(i)}))
		require.NoError(t, err)
	}
	require.NoError(t, lf.close())

	lf2, gotHeader, err := openLogFile(path, true)
	require.NoError(t, err)
	defer lf2.close()
	require.Equal(t, h.DBID, gotHeader.DBID)

	var loaded []*Entry
	require.NoError(t, lf2.loadEntries(func(offset int64, e *Entry) error {
		loaded = append(loaded, e)
		return nil
	}))
	require.Len(t, loaded, 3)
	for i, e := range loaded {
		require.EqualValues(t, i+1, e.ID)
	}
}

func TestParseHeaderRecordRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	h := testHeader("cluster-a")
	h.DBID = "cluster-a"
	_, err := writeHeaderRecord(w, h)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	r := bufio.NewReader(&buf)
	fields, _, err := readRecord(r)
	require.NoError(t, err)
	fields[0] = []byte("NOTRAFT")
	_, err = parseHeaderRecord(fields)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestParseHeaderRecordRejectsVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	h := testHeader("cluster-a")
	_, err := writeHeaderRecord(w, h)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	r := bufio.NewReader(&buf)
	fields, _, err := readRecord(r)
	require.NoError(t, err)
	fields[1] = []byte("9999")
	_, err = parseHeaderRecord(fields)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestParseEntryRecordRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	_, err := writeEntryRecord(w, NewEntry(1, 1, 0, []byte("x")))
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	r := bufio.NewReader(&buf)
	fields, _, err := readRecord(r)
	require.NoError(t, err)
	fields[0] = []byte("NOPE!")
	_, err = parseEntryRecord(fields)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestLoadEntriesTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raftlog.dat")
	h := testHeader("cluster-c")
	lf, err := createLogFile(path, h, true)
	require.NoError(t, err)
	_, err = lf.appendEntry(NewEntry(1, 1, 0, []byte("good")))
	require.NoError(t, err)
	goodSize := lf.offset
	require.NoError(t, lf.close())

	// Simulate a torn write: encode a valid record, then append only
	// its first half, as a crash mid-write would leave on disk.
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	_, err = writeEntryRecord(bw, NewEntry(1, 2, 0, []byte("second")))
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	_, err = f.Write(buf.Bytes()[:buf.Len()/2])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lf2, _, err := openLogFile(path, true)
	require.NoError(t, err)
	defer lf2.close()

	var loaded []*Entry
	require.NoError(t, lf2.loadEntries(func(offset int64, e *Entry) error {
		loaded = append(loaded, e)
		return nil
	}))
	require.Len(t, loaded, 1)
	require.Equal(t, goodSize, lf2.offset)
}
