package vamana

import (
	"fmt"

	"github.com/vamanadb/vamanadb/internal/pq"
	"github.com/vamanadb/vamanadb/internal/vecmath"
)

// Search returns up to k nearest neighbor vertex ids for query, seeding
// the frontier at the medoid and traversing the graph with a PQ
// pre-filter: every newly discovered neighbor enters the bounded queue
// carrying an approximate distance, and the not-yet-checked entries
// closest to the front are periodically re-ranked with their precise
// distance before becoming expansion targets (spec.md §4.6).
func (dg *DiskGraph) Search(query []float32, k, l int) ([]uint64, error) {
	if dg.quantizer == nil || !dg.quantizer.Trained() {
		return nil, fmt.Errorf("%w: disk graph has no trained PQ codebook", ErrConfigError)
	}
	if l < k {
		l = k
	}

	table := dg.quantizer.BuildLookupTable(query)
	queue := NewBoundedQueue(l)
	visited := make(map[uint64]bool)

	medoidVec, err := dg.readVector(dg.medoid)
	if err != nil {
		return nil, err
	}
	queue.Add(dg.medoid, dg.metric(query, medoidVec), false)
	visited[dg.medoid] = true

	positions := make([]int, 4)
	for {
		n := queue.PendingPQIndices(positions, 4)
		if n > 0 {
			if err := dg.promotePending(query, queue, positions[:n]); err != nil {
				return nil, err
			}
			continue
		}

		pos := queue.NextNotCheckedVertexIndex()
		if pos == -1 {
			break
		}
		v := queue.VertexIndex(pos)

		neighbors, err := dg.readNeighbours(v)
		if err != nil {
			return nil, err
		}
		dg.expandNeighbours(table, neighbors, visited, queue)
	}

	out := make([]uint64, k)
	got := queue.VertexIndices(out, k)
	return out[:got], nil
}

// promotePending recomputes up to four not-checked, PQ-estimated
// entries' distances precisely (in one batched call) and resorts each.
// A resort can shift other queued entries by one slot, so every id's
// position is re-derived via PositionOf immediately before its own
// resort rather than reused from the initial scan.
func (dg *DiskGraph) promotePending(query []float32, queue *BoundedQueue, positions []int) error {
	ids := make([]uint64, len(positions))
	var vecs [4][]float32
	for i, pos := range positions {
		id := queue.VertexIndex(pos)
		ids[i] = id
		v, err := dg.readVector(id)
		if err != nil {
			return err
		}
		vecs[i] = v
	}

	var out [4]float32
	vecmath.Batch4(dg.metric, query, vecs, out[:])

	for i, id := range ids {
		pos := queue.PositionOf(id)
		if pos == -1 {
			continue
		}
		queue.ResortVertex(pos, out[i])
	}
	return nil
}

// expandNeighbours adds every unseen neighbor to the frontier with an
// approximate PQ distance, computed in quartets to amortize lookup-table
// address arithmetic.
func (dg *DiskGraph) expandNeighbours(table pq.LookupTable, neighbors []uint64, visited map[uint64]bool, queue *BoundedQueue) {
	quartet := make([]uint64, 0, 4)
	flush := func() {
		if len(quartet) == 0 {
			return
		}
		var codes [4][]byte
		for i, id := range quartet {
			codes[i] = dg.readCode(id)
		}
		for i := len(quartet); i < 4; i++ {
			codes[i] = codes[0]
		}
		var out [4]float32
		table.DistanceBatch4(codes, out[:])
		for i, id := range quartet {
			queue.Add(id, out[i], true)
		}
		quartet = quartet[:0]
	}

	for _, n := range neighbors {
		if visited[n] {
			continue
		}
		visited[n] = true
		quartet = append(quartet, n)
		if len(quartet) == 4 {
			flush()
		}
	}
	flush()
}
