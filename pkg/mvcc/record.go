package mvcc

import "sync/atomic"

// transactionState is the lifecycle of a write transaction's wrapper,
// shared by every operation the transaction performed.
type transactionState int32

const (
	stateInProgress transactionState = iota
	stateCommitted
	stateReverted
)

// countdownLatch lets many readers block on one writer's outcome without
// spinning. Closing done wakes every waiter at once, the way a Java
// CountDownLatch(1) would.
type countdownLatch struct {
	done chan struct{}
}

func newCountdownLatch() *countdownLatch {
	return &countdownLatch{done: make(chan struct{})}
}

func (l *countdownLatch) release() { close(l.done) }
func (l *countdownLatch) wait()    { <-l.done }

// transactionWrapper is attached to every operation a write transaction
// produced. Its state transition from IN_PROGRESS to COMMITTED or
// REVERTED is what makes a reader's view of those operations consistent:
// a reader that observes IN_PROGRESS must wait rather than guess.
type transactionWrapper struct {
	state int32 // atomic transactionState
	latch *countdownLatch
}

func newTransactionWrapper(withLatch bool) *transactionWrapper {
	w := &transactionWrapper{state: int32(stateInProgress)}
	if withLatch {
		w.latch = newCountdownLatch()
	}
	return w
}

func (w *transactionWrapper) loadState() transactionState {
	return transactionState(atomic.LoadInt32(&w.state))
}

func (w *transactionWrapper) finish(s transactionState) {
	atomic.StoreInt32(&w.state, int32(s))
	if w.latch != nil {
		w.latch.release()
	}
}

// recordLink is one entry in a MVCCRecord's version chain: the
// transaction that produced it, the address of the full operation in the
// log, and the wrapper tracking whether that transaction ultimately
// committed. Entries are prepended lock-free via CAS, mirroring the
// even/odd vertex-version idiom pkg/vamana's graph uses for the same
// reason: many concurrent writers, no heavyweight mutex.
type recordLink struct {
	txID    uint64
	address uint64
	wrapper *transactionWrapper
	next    *recordLink
}

// mvccRecord is the per-key-hash versioned container spec.md's glossary
// describes: a monotonic high-water mark of snapshots that have observed
// it, and the chain of operations committed or in flight against it.
type mvccRecord struct {
	keyHash          uint64
	maxTransactionID uint64 // atomic
	head             atomic.Pointer[recordLink]
}

func newMVCCRecord(keyHash uint64) *mvccRecord {
	return &mvccRecord{keyHash: keyHash}
}

// bumpMaxTransactionID CASes maxTransactionID up to snapshot, never down.
func (r *mvccRecord) bumpMaxTransactionID(snapshot uint64) {
	for {
		cur := atomic.LoadUint64(&r.maxTransactionID)
		if snapshot <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&r.maxTransactionID, cur, snapshot) {
			return
		}
	}
}

func (r *mvccRecord) loadMaxTransactionID() uint64 {
	return atomic.LoadUint64(&r.maxTransactionID)
}

// prepend lock-free pushes link onto the head of the version chain.
func (r *mvccRecord) prepend(link *recordLink) {
	for {
		head := r.head.Load()
		link.next = head
		if r.head.CompareAndSwap(head, link) {
			return
		}
	}
}
