package mvcc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vamanadb/vamanadb/pkg/observability"
)

// gcState mirrors a transaction's resolution as the GC bookkeeping sees
// it — it only ever records COMMITTED or REVERTED; IN_PROGRESS is the
// absence of an entry.
type gcState int

const (
	gcCommitted gcState = iota
	gcReverted
)

// TransactionGCEntry is one slot in the sorted transactionsGCMap: a
// resolved transaction, or a compressed range [key, upToID] of
// previously-coalesced ones sharing the same state.
type TransactionGCEntry struct {
	state  gcState
	upToID uint64
}

// GC tracks resolved-transaction ranges so Sweep can reclaim the
// completion records the store no longer needs. Operation log entries
// and per-key version chains are not reclaimed by it. It
// holds its own sorted key set rather than relying on Go map iteration
// order, since findMaxMinId depends on ascending traversal.
type GC struct {
	mu      sync.Mutex
	entries map[uint64]*TransactionGCEntry
	keys    []uint64

	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewGC creates a GC bound to store. logger and metrics may be nil.
func NewGC(store *Store, logger *observability.Logger, metrics *observability.Metrics) *GC {
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}
	return &GC{
		entries: make(map[uint64]*TransactionGCEntry),
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Observe records transaction id's resolution. Store.Commit calls this
// (see WireGC) so the GC map stays current without the two components
// needing a shared lock.
func (g *GC) Observe(id uint64, reverted bool) {
	state := gcCommitted
	if reverted {
		state = gcReverted
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.entries[id]; !exists {
		g.insertKeyLocked(id)
	}
	g.entries[id] = &TransactionGCEntry{state: state, upToID: id}
}

func (g *GC) insertKeyLocked(id uint64) {
	pos := sort.Search(len(g.keys), func(i int) bool { return g.keys[i] >= id })
	g.keys = append(g.keys, 0)
	copy(g.keys[pos+1:], g.keys[pos:len(g.keys)-1])
	g.keys[pos] = id
}

func (g *GC) removeKeyLocked(id uint64) {
	pos := sort.Search(len(g.keys), func(i int) bool { return g.keys[i] >= id })
	if pos < len(g.keys) && g.keys[pos] == id {
		g.keys = append(g.keys[:pos], g.keys[pos+1:]...)
	}
}

// findMaxMinId walks the GC map ascending up to min(snapshotId, lastKey)
// and returns the largest key of the longest contiguous prefix of
// resolved entries, where each key either directly follows the previous
// one or falls inside its upToId range. Every entry in the map is
// resolved (IN_PROGRESS ids have no entry), so the prefix starts at the
// smallest key. Returns (0, false) if no key lies in range.
func (g *GC) findMaxMinId(snapshotID uint64) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.keys) == 0 {
		return 0, false
	}
	limit := snapshotID
	if last := g.keys[len(g.keys)-1]; last < limit {
		limit = last
	}

	var maxMin, prevKey uint64
	found := false
	for _, k := range g.keys {
		if k > limit {
			break
		}
		if found {
			prev := g.entries[prevKey]
			if k != prevKey+1 && k > prev.upToID {
				break
			}
		}
		maxMin = k
		prevKey = k
		found = true
	}
	return maxMin, found
}

// findMissingOrActiveTransactionsIds reports every id in (maxMinID,
// snapshotID) that is absent from the map or not contiguous with the
// range ending at maxMinID, per the same contiguity rule findMaxMinId
// uses.
func (g *GC) findMissingOrActiveTransactionsIds(maxMinID, snapshotID uint64) ([]uint64, error) {
	if snapshotID < maxMinID {
		return nil, fmt.Errorf("%w: snapshot %d below maxMinId %d", ErrInvariantViolation, snapshotID, maxMinID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var missing []uint64
	prevKey, havePrev := maxMinID, true
	for id := maxMinID + 1; id < snapshotID; id++ {
		entry, ok := g.entries[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if havePrev {
			prev, ok := g.entries[prevKey]
			contiguous := id == prevKey+1 || (ok && id <= prev.upToID) || prevKey == maxMinID
			if !contiguous {
				missing = append(missing, id)
				continue
			}
		}
		prevKey, havePrev = id, true
	}
	return missing, nil
}

// removeTransactionsRange deletes (start, end] from the GC map. If
// upToMaxMin, start itself is also deleted (the whole prefix up to and
// including the new minimum is gone); otherwise start's entry is
// widened into a coalesced range ending at end. The same keys are
// forgotten from the store's completion bookkeeping, since once GC has
// compacted a transaction's range there is nothing left worth keeping
// about its individual outcome.
func (g *GC) removeTransactionsRange(start, end uint64, upToMaxMin bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, k := range g.keysInRangeLocked(start, end) {
		delete(g.entries, k)
		g.removeKeyLocked(k)
		if g.store != nil {
			g.store.completions.Delete(k)
		}
	}

	if upToMaxMin {
		delete(g.entries, start)
		g.removeKeyLocked(start)
		if g.store != nil {
			g.store.completions.Delete(start)
		}
		return
	}

	if entry, ok := g.entries[start]; ok {
		entry.upToID = end
	} else {
		g.entries[start] = &TransactionGCEntry{state: gcCommitted, upToID: end}
		g.insertKeyLocked(start)
	}
}

// keysInRangeLocked returns keys k with start < k <= end.
func (g *GC) keysInRangeLocked(start, end uint64) []uint64 {
	var out []uint64
	for _, k := range g.keys {
		if k > start && k <= end {
			out = append(out, k)
		}
	}
	return out
}

// oldestActiveSnapshotOr returns the smallest snapshot id among s's
// active readers, or snapshotID itself if none are registered.
func (s *Store) oldestActiveSnapshotOr(snapshotID uint64) uint64 {
	oldest := snapshotID
	for _, snap := range s.ActiveSnapshots() {
		if snap < oldest {
			oldest = snap
		}
	}
	return oldest
}

// Sweep runs one GC pass up to the oldest snapshot any active reader
// still holds, coalescing resolved transaction bookkeeping below it into
// a single range anchored at the map's current minimum key.
func (g *GC) Sweep(snapshotID uint64) error {
	horizon := snapshotID
	if g.store != nil {
		horizon = g.store.oldestActiveSnapshotOr(snapshotID)
	}

	maxMin, ok := g.findMaxMinId(horizon)
	if !ok {
		return nil
	}

	g.mu.Lock()
	if len(g.keys) == 0 {
		g.mu.Unlock()
		return nil
	}
	start := g.keys[0]
	g.mu.Unlock()

	if maxMin <= start {
		return nil
	}

	active, err := g.findMissingOrActiveTransactionsIds(start, maxMin)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return nil
	}

	g.removeTransactionsRange(start, maxMin, false)
	g.logger.Debug("gc sweep reclaimed transactions", map[string]interface{}{
		"from": start,
		"upTo": maxMin,
	})
	if g.metrics != nil {
		g.metrics.RecordMVCCGCReclaimed(1)
	}
	return nil
}

// WireGC makes s report every commit/abort to gc, so Sweep always has
// current bookkeeping without s and gc sharing a lock.
func (s *Store) WireGC(gc *GC) {
	s.gc = gc
}
