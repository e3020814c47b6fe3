package vamana

import "math"

// BoundedQueue is a fixed-capacity frontier of (vertex, distance, isPQ)
// entries kept sorted ascending by distance. Each entry additionally
// carries a checked flag tracking whether search has already expanded
// it, so the nearest not-yet-expanded entry can be found by scanning
// forward from the start of the sorted list. It backs both the
// in-memory builder's greedy search and the on-disk reader's beam
// search.
type BoundedQueue struct {
	capacity int
	entries  []queueEntry
}

type queueEntry struct {
	vertex   uint64
	distance float32
	isPQ     bool
	checked  bool
}

// NewBoundedQueue creates a queue with the given fixed capacity L.
func NewBoundedQueue(capacity int) *BoundedQueue {
	return &BoundedQueue{
		capacity: capacity,
		entries:  make([]queueEntry, 0, capacity),
	}
}

func (q *BoundedQueue) Size() int { return len(q.entries) }

// MaxDistance returns the distance of the worst (furthest) entry
// currently held, or +Inf if the queue is empty.
func (q *BoundedQueue) MaxDistance() float32 {
	if len(q.entries) == 0 {
		return float32(math.Inf(1))
	}
	return q.entries[len(q.entries)-1].distance
}

// Add inserts a candidate, evicting the current worst entry if the
// queue is at capacity and the candidate is strictly closer. Returns
// true if the candidate was actually kept.
func (q *BoundedQueue) Add(vertex uint64, distance float32, isPQ bool) bool {
	if len(q.entries) >= q.capacity && distance >= q.MaxDistance() {
		return false
	}

	e := queueEntry{vertex: vertex, distance: distance, isPQ: isPQ}

	pos := q.insertionIndex(distance)
	q.entries = append(q.entries, queueEntry{})
	copy(q.entries[pos+1:], q.entries[pos:len(q.entries)-1])
	q.entries[pos] = e

	if len(q.entries) > q.capacity {
		q.entries = q.entries[:q.capacity]
	}
	return true
}

func (q *BoundedQueue) insertionIndex(distance float32) int {
	lo, hi := 0, len(q.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if q.entries[mid].distance <= distance {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// VertexIndex returns the vertex id at position pos.
func (q *BoundedQueue) VertexIndex(pos int) uint64 { return q.entries[pos].vertex }

// VertexDistance returns the distance at position pos.
func (q *BoundedQueue) VertexDistance(pos int) float32 { return q.entries[pos].distance }

// IsPqDistance reports whether the entry at pos still carries an
// approximate (PQ) distance rather than a precise one.
func (q *BoundedQueue) IsPqDistance(pos int) bool { return q.entries[pos].isPQ }

// NextNotCheckedVertexIndex returns the position of the lowest-distance
// entry that has not yet been marked checked, marking it checked, or -1
// if none remain. Entries stay sorted by distance at all times, so a
// single forward scan finds the next eligible entry even after
// ResortVertex has reshuffled positions — an entry whose distance drops
// below a previously-checked one becomes reachable again simply by
// being unchecked.
func (q *BoundedQueue) NextNotCheckedVertexIndex() int {
	for pos := range q.entries {
		if !q.entries[pos].checked {
			q.entries[pos].checked = true
			return pos
		}
	}
	return -1
}

// PendingPQIndices writes up to max positions of not-yet-checked entries
// that still carry a PQ (approximate) distance, nearest first, and
// returns the count written. The disk graph reader uses this to pick
// up to four candidates to re-rank precisely before picking its next
// expansion target.
func (q *BoundedQueue) PendingPQIndices(out []int, max int) int {
	n := 0
	for pos := range q.entries {
		if n >= max {
			break
		}
		if !q.entries[pos].checked && q.entries[pos].isPQ {
			out[n] = pos
			n++
		}
	}
	return n
}

// ResortVertex re-positions the entry at pos after its distance has
// been tightened from a PQ estimate to a precise value, and returns its
// new position. The entry is not marked checked by this call — it only
// becomes an expansion target once NextNotCheckedVertexIndex selects it.
func (q *BoundedQueue) ResortVertex(pos int, newDistance float32) int {
	e := q.entries[pos]
	e.distance = newDistance
	e.isPQ = false

	rest := append(append([]queueEntry{}, q.entries[:pos]...), q.entries[pos+1:]...)
	lo, hi := 0, len(rest)
	for lo < hi {
		mid := (lo + hi) / 2
		if rest[mid].distance <= newDistance {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	newPos := lo
	rest = append(rest, queueEntry{})
	copy(rest[newPos+1:], rest[newPos:len(rest)-1])
	rest[newPos] = e
	q.entries = rest
	return newPos
}

// PositionOf returns vertex's current position, or -1 if it isn't in
// the queue. Callers re-derive positions this way after a resort rather
// than relying on a previously cached index, since a single resort can
// shift every entry between the old and new position by one slot.
func (q *BoundedQueue) PositionOf(vertex uint64) int {
	for pos := range q.entries {
		if q.entries[pos].vertex == vertex {
			return pos
		}
	}
	return -1
}

// VertexIndices writes up to k nearest vertex ids (nearest first) into
// out, returning the number written.
func (q *BoundedQueue) VertexIndices(out []uint64, k int) int {
	n := k
	if n > len(q.entries) {
		n = len(q.entries)
	}
	for i := 0; i < n; i++ {
		out[i] = q.entries[i].vertex
	}
	return n
}
