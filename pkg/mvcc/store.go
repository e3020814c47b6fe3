// Package mvcc implements a lock-free, in-memory multi-version
// concurrency control log: readers observe a snapshot of committed
// writes without blocking writers, and writers detect conflicts against
// readers that have already looked at a key.
package mvcc

import (
	"bytes"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vamanadb/vamanadb/pkg/observability"
)

// txOperation is the (address, snapshotId, keyHash) triple a transaction
// accumulates for each put/remove, before commit fans it out into the
// per-key version chains.
type txOperation struct {
	address    uint64
	snapshotID uint64
	keyHash    uint64
}

// Transaction is a single read or write attempt against a Store.
type Transaction struct {
	snapshotID uint64
	isWrite    bool

	mu  sync.Mutex
	ops []txOperation
}

// SnapshotID returns the snapshot this transaction observes (reads) or
// will commit against (writes).
func (tx *Transaction) SnapshotID() uint64 { return tx.snapshotID }

// IsWrite reports whether this transaction may call Put/Remove/Commit.
func (tx *Transaction) IsWrite() bool { return tx.isWrite }

// Store is the MVCC engine: a monotonic global snapshot counter, a
// lock-free map of per-key-hash version chains, and a lock-free
// append-only operation log.
type Store struct {
	snapshotID  uint64 // atomic
	nextAddress uint64 // atomic

	records     sync.Map // uint64 keyHash -> *mvccRecord
	log         sync.Map // uint64 address -> *operationLogRecord
	completions sync.Map // uint64 snapshotID -> *completionLogRecord

	activeReads sync.Map // *Transaction -> struct{}

	gc      *GC
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewStore creates an empty Store. logger and metrics may be nil, in
// which case a default logger is used and metrics are skipped.
func NewStore(logger *observability.Logger, metrics *observability.Metrics) *Store {
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}
	return &Store{logger: logger, metrics: metrics}
}

func (s *Store) ensureRecord(keyHash uint64) *mvccRecord {
	if v, ok := s.records.Load(keyHash); ok {
		return v.(*mvccRecord)
	}
	fresh := newMVCCRecord(keyHash)
	actual, _ := s.records.LoadOrStore(keyHash, fresh)
	return actual.(*mvccRecord)
}

// StartReadTransaction returns the current global snapshot id, registers
// the transaction as an active read so the GC can find the oldest live
// snapshot, and must be paired with EndReadTransaction.
func (s *Store) StartReadTransaction() *Transaction {
	tx := &Transaction{snapshotID: atomic.LoadUint64(&s.snapshotID)}
	s.activeReads.Store(tx, struct{}{})
	return tx
}

// EndReadTransaction deregisters a read transaction started with
// StartReadTransaction.
func (s *Store) EndReadTransaction(tx *Transaction) {
	s.activeReads.Delete(tx)
}

// StartWriteTransaction atomically advances the global snapshot id and
// takes the new value as this transaction's snapshot.
func (s *Store) StartWriteTransaction() *Transaction {
	snap := atomic.AddUint64(&s.snapshotID, 1)
	return &Transaction{snapshotID: snap, isWrite: true}
}

// ActiveSnapshots returns the snapshot ids of every read transaction
// currently registered, for GC's "oldest live snapshot" computation and
// for tests asserting no read observes an uncommitted write.
func (s *Store) ActiveSnapshots() []uint64 {
	var out []uint64
	s.activeReads.Range(func(k, _ any) bool {
		out = append(out, k.(*Transaction).snapshotID)
		return true
	})
	return out
}

func (s *Store) appendOp(tx *Transaction, key, value []byte, kind operationKind) error {
	if !tx.isWrite {
		return fmt.Errorf("%w: cannot write through a read transaction", ErrConfigError)
	}

	addr := atomic.AddUint64(&s.nextAddress, 1)
	hash := hashKey(key)
	rec := &operationLogRecord{
		address:    addr,
		snapshotID: tx.snapshotID,
		keyHash:    hash,
		key:        cloneBytes(key),
		value:      cloneBytes(value),
		kind:       kind,
	}
	s.log.Store(addr, rec)

	tx.mu.Lock()
	tx.ops = append(tx.ops, txOperation{address: addr, snapshotID: tx.snapshotID, keyHash: hash})
	tx.mu.Unlock()
	return nil
}

// Put queues a key/value write in tx's own operation list. No version
// chain is touched until Commit.
func (s *Store) Put(tx *Transaction, key, value []byte) error {
	return s.appendOp(tx, key, value, opPut)
}

// Remove queues a tombstone write in tx's own operation list.
func (s *Store) Remove(tx *Transaction, key []byte) error {
	return s.appendOp(tx, key, nil, opRemove)
}

// Read resolves key as of tx's snapshot. found is false when no visible
// version chain entry carries this key, the signal callers use to fall
// back to the authoritative B-tree store; a tombstone (REMOVE) is
// reported as found with a nil value.
func (s *Store) Read(tx *Transaction, key []byte) (value []byte, found bool, err error) {
	hash := hashKey(key)
	rec := s.ensureRecord(hash)
	rec.bumpMaxTransactionID(tx.snapshotID)
	max := rec.loadMaxTransactionID()

	winner, err := s.winningLink(rec, max)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, nil
	}

	op := s.mustLookupOp(winner.address)
	if op.kind == opRemove {
		return nil, true, nil
	}
	if bytes.Equal(op.key, key) {
		return op.value, true, nil
	}

	// Hash collision: re-scan every entry strictly below max, newest
	// first, returning the first whose key matches. The log this was
	// transcribed from kept scanning past the first match; that was a
	// bug (spec.md's open design question), not intended duplicate
	// handling, so this stops at the first hit.
	return s.scanCollision(rec, max, key)
}

// winningLink returns the entry with the largest txId <= max, skipping
// REVERTED entries and waiting out IN_PROGRESS ones. A wrapper that
// resolves to REVERTED after a wait is excluded just like one observed
// REVERTED outright.
func (s *Store) winningLink(rec *mvccRecord, max uint64) (*recordLink, error) {
	var best *recordLink
	for l := rec.head.Load(); l != nil; l = l.next {
		if l.txID > max {
			continue
		}
		if !s.awaitResolved(l.wrapper) {
			continue
		}
		if best == nil || l.txID > best.txID {
			best = l
		}
	}
	return best, nil
}

func (s *Store) scanCollision(rec *mvccRecord, max uint64, key []byte) ([]byte, bool, error) {
	var candidates []*recordLink
	for l := rec.head.Load(); l != nil; l = l.next {
		if l.txID < max {
			candidates = append(candidates, l)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].txID > candidates[j].txID })

	for _, l := range candidates {
		if !s.awaitResolved(l.wrapper) {
			continue
		}
		op := s.mustLookupOp(l.address)
		if !bytes.Equal(op.key, key) {
			continue
		}
		if op.kind == opRemove {
			return nil, true, nil
		}
		return op.value, true, nil
	}
	return nil, false, nil
}

// awaitResolved waits out an IN_PROGRESS wrapper and reports whether the
// entry is visible (COMMITTED), as opposed to REVERTED.
func (s *Store) awaitResolved(w *transactionWrapper) bool {
	state := w.loadState()
	if state == stateInProgress {
		if w.latch != nil {
			w.latch.wait()
		} else {
			for w.loadState() == stateInProgress {
				runtime.Gosched()
			}
		}
		state = w.loadState()
	}
	return state == stateCommitted
}

func (s *Store) mustLookupOp(address uint64) *operationLogRecord {
	v, ok := s.log.Load(address)
	if !ok {
		panic(fmt.Sprintf("mvcc: operation %d missing from log", address))
	}
	return v.(*operationLogRecord)
}

// latchThreshold is the operation-list size above which Commit installs a
// countdown latch instead of leaving readers to spin-yield.
const latchThreshold = 10

// Commit fans tx's queued operations into their per-key version chains.
// A no-op transaction (no Put/Remove calls) commits trivially. Once any
// record observes a conflicting snapshot, the whole transaction reverts:
// every operation it already linked becomes invisible via its shared
// wrapper, and ErrWriteConflict is returned.
func (s *Store) Commit(tx *Transaction) error {
	if !tx.isWrite {
		return fmt.Errorf("%w: read transactions are not committed", ErrConfigError)
	}
	tx.mu.Lock()
	ops := tx.ops
	tx.mu.Unlock()
	if len(ops) == 0 {
		return nil
	}

	wrapper := newTransactionWrapper(len(ops) > latchThreshold)

	for _, op := range ops {
		rec := s.ensureRecord(op.keyHash)
		rec.prepend(&recordLink{txID: tx.snapshotID, address: op.address, wrapper: wrapper})
		rec.bumpMaxTransactionID(tx.snapshotID)

		if tx.snapshotID < rec.loadMaxTransactionID() {
			wrapper.finish(stateReverted)
			s.recordCompletion(tx, true)
			return fmt.Errorf("%w: snapshot %d lost to a later reader on key hash %d", ErrWriteConflict, tx.snapshotID, op.keyHash)
		}
	}

	s.advanceSnapshotID(tx.snapshotID)
	wrapper.finish(stateCommitted)
	s.recordCompletion(tx, false)
	return nil
}

// advanceSnapshotID CASes the global counter up to at least snapshotID,
// the way a write transaction publishes its own snapshot as the new
// floor once it has committed.
func (s *Store) advanceSnapshotID(snapshotID uint64) {
	for {
		cur := atomic.LoadUint64(&s.snapshotID)
		if snapshotID <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.snapshotID, cur, snapshotID) {
			return
		}
	}
}

func (s *Store) recordCompletion(tx *Transaction, aborted bool) {
	s.completions.Store(tx.snapshotID, &completionLogRecord{snapshotID: tx.snapshotID, aborted: aborted})
	if s.gc != nil {
		s.gc.Observe(tx.snapshotID, aborted)
	}
	if s.metrics != nil {
		if aborted {
			s.metrics.RecordMVCCConflict()
		} else {
			s.metrics.RecordMVCCCommit()
		}
	}
	s.logger.Debug("transaction completion", map[string]interface{}{
		"snapshotId": tx.snapshotID,
		"aborted":    aborted,
		"operations": len(tx.ops),
	})
}
