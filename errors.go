package raftlog

import "github.com/raftlogd/raftlog/internal/wal"

// Sentinel errors the facade returns; match them with errors.Is.
var (
	ErrNotFound        = wal.ErrNotFound
	ErrOutOfRange      = wal.ErrOutOfRange
	ErrMalformedRecord = wal.ErrMalformedRecord
	ErrLocked          = wal.ErrLocked
)
