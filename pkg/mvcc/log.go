package mvcc

import (
	"github.com/cespare/xxhash/v2"
)

// operationKind distinguishes a put from a remove in the log.
type operationKind uint8

const (
	opPut operationKind = iota
	opRemove
)

// operationLogRecord is one put/remove, addressed by a monotonically
// allocated operationAddress. The log is append-only and keyed by that
// address, so concurrent writers never contend on the same slot.
type operationLogRecord struct {
	address    uint64
	snapshotID uint64
	keyHash    uint64
	key        []byte
	value      []byte
	kind       operationKind
	wrapper    *transactionWrapper
}

// completionLogRecord marks the end of a write transaction, committed or
// aborted, the way TransactionCompletionLogRecord closes out a commit.
type completionLogRecord struct {
	snapshotID uint64
	aborted    bool
}

// hashKey is the single key-hash function the MVCCRecord map is addressed
// by: xxhash64, whose fixed internal constants stand in for the "fixed
// seed" the design calls for.
func hashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
