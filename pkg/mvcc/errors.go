package mvcc

import "errors"

// ErrInvariantViolation signals a broken structural invariant: a GC
// snapshot below its recorded minimum.
var ErrInvariantViolation = errors.New("mvcc: invariant violation")

// ErrWriteConflict is returned by commit when one of the transaction's
// records was observed by a reader with a later snapshot. The caller may
// retry with a fresh transaction.
var ErrWriteConflict = errors.New("mvcc: write conflict")

// ErrConfigError is returned when a Store or Transaction is used outside
// its construction contract (e.g. writing through a read transaction).
var ErrConfigError = errors.New("mvcc: invalid configuration")

// ErrInterrupted would signal a canceled latch wait inside read. The
// store currently has no cancellation path into that wait (a committing
// writer always releases its latch), so this is reserved rather than
// ever returned today.
var ErrInterrupted = errors.New("mvcc: interrupted")
