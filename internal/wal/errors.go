package wal

import "github.com/pkg/errors"

// Sentinel errors returned by the log and its collaborators. Callers
// match on these with errors.Is; IO failures from the underlying files
// are wrapped around them with additional context via errors.Wrapf.
var (
	// ErrNotFound is returned when a requested index has no live entry,
	// either because it was never written or because it has already
	// been compacted or truncated away.
	ErrNotFound = errors.New("raftlog: entry not found")

	// ErrOutOfRange is returned by operations whose index argument
	// falls outside the log's currently retained range.
	ErrOutOfRange = errors.New("raftlog: index out of range")

	// ErrMalformedRecord is returned when a framed record does not
	// parse: a bad prefix byte, a non-numeric length, a short payload,
	// or an unexpected element count.
	ErrMalformedRecord = errors.New("raftlog: malformed record")

	// ErrLocked is returned when the log's files are already locked by
	// another process; the log supports exactly one writer at a time.
	ErrLocked = errors.New("raftlog: log files are locked by another process")
)
