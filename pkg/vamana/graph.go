package vamana

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/vamanadb/vamanadb/internal/vecmath"
)

// Graph is the mutable in-memory adjacency structure the builder works
// against: a flat vectors segment, a flat edges segment (M+1 int32 slots
// per vertex, slot 0 holding the live edge count), and a per-vertex
// atomic edge version used as a lock-free even/odd lock. Even means
// quiescent, odd means exclusively held by whichever worker is currently
// mutating that vertex's neighbor list.
type Graph struct {
	n, d, m      int
	vectors      []float32
	edges        []int32
	edgeVersions []uint64
	metric       vecmath.Metric
}

// NewGraph builds a Graph over vectors, each vertex capped at m outgoing
// edges, using metric for all distance computations.
func NewGraph(vectors [][]float32, m int, metric vecmath.Metric) (*Graph, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors to build a graph over", ErrConfigError)
	}
	if m < 1 {
		return nil, fmt.Errorf("%w: max degree must be >= 1, got %d", ErrConfigError, m)
	}

	d := len(vectors[0])
	n := len(vectors)
	flat := make([]float32, n*d)
	for i, v := range vectors {
		if len(v) != d {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrConfigError, i, len(v), d)
		}
		copy(flat[i*d:(i+1)*d], v)
	}

	if metric == nil {
		metric = vecmath.L2
	}

	return &Graph{
		n:            n,
		d:            d,
		m:            m,
		vectors:      flat,
		edges:        make([]int32, n*(m+1)),
		edgeVersions: make([]uint64, n),
		metric:       metric,
	}, nil
}

func (g *Graph) N() int { return g.n }
func (g *Graph) D() int { return g.d }
func (g *Graph) M() int { return g.m }

// Vector returns the vector backing vertex i. The returned slice aliases
// graph storage; callers must copy if they need it to outlive concurrent
// mutation of unrelated vertices (vector payloads themselves never
// change after construction).
func (g *Graph) Vector(i uint64) []float32 {
	base := i * uint64(g.d)
	return g.vectors[base : base+uint64(g.d)]
}

// acquireVertex spins until it observes an even version for vertex i and
// CASes it to even+1. Observing an odd version means the vertex is
// already held — by the single-owner discipline the builder uses, that
// can only mean a nested acquire, a programming error.
func (g *Graph) acquireVertex(i uint64) error {
	for {
		v := atomic.LoadUint64(&g.edgeVersions[i])
		if v%2 != 0 {
			return fmt.Errorf("%w: vertex %d already acquired", ErrInvariantViolation, i)
		}
		if atomic.CompareAndSwapUint64(&g.edgeVersions[i], v, v+1) {
			return nil
		}
	}
}

// releaseVertex CASes vertex i's version from odd back to even. Observing
// an even version here means the caller never held the lock.
func (g *Graph) releaseVertex(i uint64) error {
	v := atomic.LoadUint64(&g.edgeVersions[i])
	if v%2 == 0 {
		return fmt.Errorf("%w: vertex %d released without being acquired", ErrInvariantViolation, i)
	}
	if !atomic.CompareAndSwapUint64(&g.edgeVersions[i], v, v+1) {
		return fmt.Errorf("%w: vertex %d version changed out from under its owner", ErrInvariantViolation, i)
	}
	return nil
}

// readNeighboursUnsafe reads vertex i's neighbor list without any version
// check. Safe when the caller holds the vertex lock, or as the payload
// read sandwiched between the two version loads of the lock-free retry
// pattern in fetchNeighbours.
func (g *Graph) readNeighboursUnsafe(i uint64) []uint64 {
	base := i * uint64(g.m+1)
	count := int(g.edges[base])
	out := make([]uint64, count)
	for j := 0; j < count; j++ {
		out[j] = uint64(g.edges[base+1+uint64(j)])
	}
	return out
}

// fetchNeighbours is the lock-free reader path: it retries until two
// consecutive version loads around the payload read agree and land on
// an even (quiescent) version.
func (g *Graph) fetchNeighbours(i uint64) []uint64 {
	for {
		v1 := atomic.LoadUint64(&g.edgeVersions[i])
		if v1%2 != 0 {
			continue
		}
		neighbors := g.readNeighboursUnsafe(i)
		v2 := atomic.LoadUint64(&g.edgeVersions[i])
		if v1 == v2 {
			return neighbors
		}
	}
}

func (g *Graph) getNeighboursSize(i uint64) int {
	for {
		v1 := atomic.LoadUint64(&g.edgeVersions[i])
		if v1%2 != 0 {
			continue
		}
		count := int(g.edges[i*uint64(g.m+1)])
		v2 := atomic.LoadUint64(&g.edgeVersions[i])
		if v1 == v2 {
			return count
		}
	}
}

// setNeighboursLocked overwrites vertex i's neighbor list, truncating to
// m entries. Caller must hold the vertex lock.
func (g *Graph) setNeighboursLocked(i uint64, neighbors []uint64) {
	base := i * uint64(g.m+1)
	n := len(neighbors)
	if n > g.m {
		n = g.m
	}
	g.edges[base] = int32(n)
	for j := 0; j < n; j++ {
		g.edges[base+1+uint64(j)] = int32(neighbors[j])
	}
}

// appendNeighbourLocked appends n to vertex i's neighbor list if there is
// room, reporting whether it did. Caller must hold the vertex lock.
func (g *Graph) appendNeighbourLocked(i, n uint64) bool {
	base := i * uint64(g.m+1)
	count := g.edges[base]
	if int(count) >= g.m {
		return false
	}
	g.edges[base+1+uint64(count)] = int32(n)
	g.edges[base] = count + 1
	return true
}

// medoid returns the vertex nearest the component-wise mean of all
// vectors in the graph.
func (g *Graph) medoid() uint64 {
	if g.n == 1 {
		return 0
	}

	mean := make([]float32, g.d)
	for i := 0; i < g.n; i++ {
		v := g.Vector(uint64(i))
		for d := 0; d < g.d; d++ {
			mean[d] += v[d]
		}
	}
	inv := 1 / float32(g.n)
	for d := range mean {
		mean[d] *= inv
	}

	best := uint64(0)
	bestDist := float32(math.Inf(1))
	for i := 0; i < g.n; i++ {
		dist := g.metric(mean, g.Vector(uint64(i)))
		if dist < bestDist {
			bestDist = dist
			best = uint64(i)
		}
	}
	return best
}

// generateRandomEdges seeds every vertex with min(N-1, M) distinct
// random neighbors, never itself.
func (g *Graph) generateRandomEdges(r *rand.Rand) error {
	degree := g.m
	if g.n-1 < degree {
		degree = g.n - 1
	}
	if degree <= 0 {
		return nil
	}

	for i := 0; i < g.n; i++ {
		perm := r.Perm(g.n)
		neighbors := make([]uint64, 0, degree)
		for _, p := range perm {
			if p == i {
				continue
			}
			neighbors = append(neighbors, uint64(p))
			if len(neighbors) == degree {
				break
			}
		}

		v := uint64(i)
		if err := g.acquireVertex(v); err != nil {
			return err
		}
		g.setNeighboursLocked(v, neighbors)
		if err := g.releaseVertex(v); err != nil {
			return err
		}
	}
	return nil
}

type scoredCandidate struct {
	id   uint64
	dist float32
}

// robustPrune selects v's new neighbor set from candidates (index ->
// distance to v, or NaN if unknown) plus v's current neighbors, per
// spec: sort ascending, then for increasing prune multipliers
// 1.0, 1.2, 1.44, ..., greedily take the nearest remaining candidate and
// discard everyone it dominates, until M neighbors are picked or
// candidates run out. Each multiplier round restarts from the full
// sorted candidate set; the last round at or below alpha wins. The final
// list is written in reverse (nearest last) under the vertex lock.
func (g *Graph) robustPrune(v uint64, candidates map[uint64]float32, alpha float64) error {
	if err := g.acquireVertex(v); err != nil {
		return err
	}

	existing := g.readNeighboursUnsafe(v)
	for _, n := range existing {
		if n == v {
			continue
		}
		if _, ok := candidates[n]; !ok {
			candidates[n] = float32(math.NaN())
		}
	}

	vVec := g.Vector(v)
	unknown := make([]uint64, 0, len(candidates))
	for c, d := range candidates {
		if math.IsNaN(float64(d)) {
			unknown = append(unknown, c)
		}
	}
	for i := 0; i < len(unknown); i += 4 {
		end := i + 4
		if end > len(unknown) {
			end = len(unknown)
		}
		batch := unknown[i:end]
		var cvecs [4][]float32
		for j, c := range batch {
			cvecs[j] = g.Vector(c)
		}
		var out [4]float32
		vecmath.Batch4(g.metric, vVec, cvecs, out[:])
		for j, c := range batch {
			candidates[c] = out[j]
		}
	}

	ordered := make([]scoredCandidate, 0, len(candidates))
	for c, d := range candidates {
		if c == v {
			continue
		}
		ordered = append(ordered, scoredCandidate{c, d})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].dist < ordered[j].dist })

	var finalNeighbors []scoredCandidate
	for multiplier := 1.0; multiplier <= alpha+1e-9; multiplier *= 1.2 {
		working := append([]scoredCandidate(nil), ordered...)
		var neighbors []scoredCandidate

		for len(working) > 0 && len(neighbors) < g.m {
			p := working[0]
			working = working[1:]
			neighbors = append(neighbors, p)
			if len(neighbors) >= g.m {
				break
			}

			pVec := g.Vector(p.id)
			kept := working[:0]
			for _, c := range working {
				d := g.metric(pVec, g.Vector(c.id))
				if multiplier*float64(d) <= float64(c.dist) {
					continue // c's edge is dominated by the path through p
				}
				kept = append(kept, c)
			}
			working = kept
		}
		finalNeighbors = neighbors
	}

	ids := make([]uint64, len(finalNeighbors))
	for i, s := range finalNeighbors {
		ids[len(finalNeighbors)-1-i] = s.id
	}
	g.setNeighboursLocked(v, ids)
	return g.releaseVertex(v)
}

// greedySearchPrune runs a best-first search from start toward target's
// vector, expanding at most L candidates through a BoundedQueue frontier.
// It returns every visited vertex with its distance to target, the
// candidate set robustPrune(target, ...) consumes.
func (g *Graph) greedySearchPrune(start, target uint64, l int) map[uint64]float32 {
	targetVec := g.Vector(target)
	queue := NewBoundedQueue(l)
	visited := make(map[uint64]float32)

	d0 := g.metric(targetVec, g.Vector(start))
	queue.Add(start, d0, false)
	visited[start] = d0

	for expanded := 0; expanded < l; expanded++ {
		pos := queue.NextNotCheckedVertexIndex()
		if pos == -1 {
			break
		}
		v := queue.VertexIndex(pos)

		for _, n := range g.fetchNeighbours(v) {
			if n == target {
				continue
			}
			if _, seen := visited[n]; seen {
				continue
			}
			d := g.metric(targetVec, g.Vector(n))
			visited[n] = d
			queue.Add(n, d, false)
		}
	}
	return visited
}
