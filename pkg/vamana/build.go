package vamana

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vamanadb/vamanadb/internal/vecmath"
)

// BuildConfig controls graph construction.
type BuildConfig struct {
	L          int     // search list size used while pruning each vertex
	M          int     // max outgoing edges per vertex
	Alpha      float64 // RobustPrune distance multiplier ceiling
	Workers    int     // 0 selects runtime.NumCPU()
	RandomSeed int64
}

// DefaultBuildConfig returns reasonable defaults for a moderate-sized
// dataset.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		L:          100,
		M:          32,
		Alpha:      1.2,
		Workers:    0,
		RandomSeed: 1,
	}
}

func (c BuildConfig) validate() error {
	if c.L < 1 {
		return ErrConfigError
	}
	if c.M < 1 {
		return ErrConfigError
	}
	if c.Alpha < 1.0 {
		return ErrConfigError
	}
	return nil
}

// workItem is a (ownerVertex, newNeighbor) pair: a candidate edge u -> v
// waiting to be reconciled by u's owning worker.
type workItem struct {
	owner    uint64
	neighbor uint64
}

// workerQueue is a worker's inbox: a plain mutex-guarded FIFO. Workers
// drain it completely before looking at their own vertex shard.
type workerQueue struct {
	mu    sync.Mutex
	items []workItem
}

func (q *workerQueue) push(it workItem) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

func (q *workerQueue) drain() []workItem {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *workerQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func allQueuesEmpty(queues []*workerQueue) bool {
	for _, q := range queues {
		if q.len() > 0 {
			return false
		}
	}
	return true
}

// BuildGraph constructs a Vamana graph over vectors: random-edge seeding,
// then W = cfg.Workers (or the host core count) parallel workers that
// each own the vertices whose id ≡ their index (mod W), greedy-search-
// pruning their own shard and reconciling cross-shard neighbor proposals
// through per-worker inboxes until every worker has exhausted its shard
// and every inbox is empty.
func BuildGraph(ctx context.Context, vectors [][]float32, metric vecmath.Metric, cfg BuildConfig) (*Graph, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	g, err := NewGraph(vectors, cfg.M, metric)
	if err != nil {
		return nil, err
	}

	r := rand.New(rand.NewSource(cfg.RandomSeed))
	if err := g.generateRandomEdges(r); err != nil {
		return nil, err
	}

	if g.N() == 1 {
		return g, nil
	}

	medoid := g.medoid()

	w := cfg.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > g.N() {
		w = g.N()
	}
	if w < 1 {
		w = 1
	}

	queues := make([]*workerQueue, w)
	for i := range queues {
		queues[i] = &workerQueue{}
	}

	shards := make([][]uint64, w)
	for v := 0; v < g.N(); v++ {
		owner := v % w
		shards[owner] = append(shards[owner], uint64(v))
	}
	for _, shard := range shards {
		r.Shuffle(len(shard), func(i, j int) { shard[i], shard[j] = shard[j], shard[i] })
	}

	var doneCount int32

	grp, gctx := errgroup.WithContext(ctx)
	for wi := 0; wi < w; wi++ {
		wi := wi
		grp.Go(func() error {
			return runBuildWorker(gctx, g, medoid, cfg, w, wi, shards[wi], queues, &doneCount)
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return g, nil
}

func runBuildWorker(ctx context.Context, g *Graph, medoid uint64, cfg BuildConfig, w, id int, owned []uint64, queues []*workerQueue, doneCount *int32) error {
	next := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, it := range queues[id].drain() {
			if err := reconcileWorkItem(g, cfg, it); err != nil {
				return err
			}
		}

		if next < len(owned) {
			v := owned[next]
			next++
			if v == medoid {
				continue
			}

			visited := g.greedySearchPrune(medoid, v, cfg.L)
			if err := g.robustPrune(v, visited, cfg.Alpha); err != nil {
				return err
			}
			for _, n := range g.fetchNeighbours(v) {
				owner := int(n) % w
				queues[owner].push(workItem{owner: n, neighbor: v})
			}
			continue
		}

		// Own shard exhausted: declare done, then check for global
		// termination. Declaring first means any message sent to this
		// worker's inbox by a still-active peer is visible to the
		// queues-empty check below, so a late enqueue is never missed.
		atomic.AddInt32(doneCount, 1)
		if int(atomic.LoadInt32(doneCount)) == w && allQueuesEmpty(queues) {
			return nil
		}
		atomic.AddInt32(doneCount, -1)
		runtime.Gosched()
	}
}

// reconcileWorkItem applies one cross-shard neighbor proposal: u ->
// v is appended directly if u has spare degree and doesn't already
// carry it, otherwise u is re-pruned with v as an additional candidate.
func reconcileWorkItem(g *Graph, cfg BuildConfig, it workItem) error {
	u, v := it.owner, it.neighbor

	if err := g.acquireVertex(u); err != nil {
		return err
	}
	existing := g.readNeighboursUnsafe(u)
	has := false
	for _, n := range existing {
		if n == v {
			has = true
			break
		}
	}
	if !has && len(existing) < g.M() {
		g.appendNeighbourLocked(u, v)
		return g.releaseVertex(u)
	}
	if err := g.releaseVertex(u); err != nil {
		return err
	}
	return g.robustPrune(u, map[uint64]float32{v: float32(math.NaN())}, cfg.Alpha)
}
