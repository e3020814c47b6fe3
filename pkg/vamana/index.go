package vamana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vamanadb/vamanadb/internal/pq"
	"github.com/vamanadb/vamanadb/internal/vecmath"
	"github.com/vamanadb/vamanadb/pkg/observability"
)

// IndexConfig configures a new Index.
type IndexConfig struct {
	DataPath   string // where Build persists the graph (required)
	M          int    // max outgoing edges per vertex
	L          int    // search list size, used for both build and query
	Alpha      float64
	Subspaces  int // PQ codebook count (Q); D must divide evenly by this
	Metric     vecmath.Metric
	RandomSeed int64
	Workers    int // 0 selects runtime.NumCPU()

	Logger  *observability.Logger  // optional; defaults to observability.NewDefaultLogger()
	Metrics *observability.Metrics // optional; metrics are skipped if nil
}

// DefaultIndexConfig mirrors the values spec.md calls out as typical.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		M:          32,
		L:          100,
		Alpha:      1.2,
		Subspaces:  8,
		Metric:     vecmath.L2,
		RandomSeed: 1,
		Workers:    0,
	}
}

// Stats reports build-time counters, the way DiskANN's Index exposes
// Size()/Dimension() once a build has run.
type Stats struct {
	VertexCount        int
	AverageDegree      float64
	PQCompressionRatio float64
}

// Index is the public entry point: accumulate vectors with AddVector,
// Build once, then Search. There is no online update path after Build —
// spec.md's non-goals rule that out by design.
type Index struct {
	mu sync.RWMutex

	cfg       IndexConfig
	dimension int

	buildVectors [][]float32
	externalIDs  [][]byte

	built     bool
	graph     *Graph
	disk      *DiskGraph
	quantizer *pq.Quantizer
	stats     Stats
}

// New validates cfg and returns an empty, unbuilt Index.
func New(cfg IndexConfig) (*Index, error) {
	if cfg.DataPath == "" {
		return nil, fmt.Errorf("%w: DataPath is required", ErrConfigError)
	}
	if cfg.M <= 0 {
		cfg.M = 32
	}
	if cfg.L <= 0 {
		cfg.L = 100
	}
	if cfg.Alpha < 1.0 {
		cfg.Alpha = 1.2
	}
	if cfg.Subspaces <= 0 {
		cfg.Subspaces = 8
	}
	if cfg.Metric == nil {
		cfg.Metric = vecmath.L2
	}
	if cfg.RandomSeed == 0 {
		cfg.RandomSeed = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewDefaultLogger()
	}
	return &Index{cfg: cfg}, nil
}

// AddVector queues vector, with an optional external id, for the next
// Build call.
func (idx *Index) AddVector(vector []float32, externalID []byte) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.built {
		return 0, fmt.Errorf("%w: index already built, no online updates", ErrInvariantViolation)
	}
	if idx.dimension == 0 {
		idx.dimension = len(vector)
	} else if len(vector) != idx.dimension {
		return 0, fmt.Errorf("%w: vector has dimension %d, want %d", ErrConfigError, len(vector), idx.dimension)
	}

	v := make([]float32, len(vector))
	copy(v, vector)
	id := len(idx.buildVectors)
	idx.buildVectors = append(idx.buildVectors, v)
	idx.externalIDs = append(idx.externalIDs, externalID)
	return id, nil
}

// Build trains the PQ codebook, constructs the Vamana graph in
// parallel, and persists both to cfg.DataPath. After Build succeeds,
// the accumulated build vectors are released and Search becomes usable.
func (idx *Index) Build(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.built {
		return fmt.Errorf("%w: index already built", ErrInvariantViolation)
	}
	if len(idx.buildVectors) == 0 {
		return fmt.Errorf("%w: no vectors to build an index from", ErrConfigError)
	}
	if idx.dimension%idx.cfg.Subspaces != 0 {
		return fmt.Errorf("%w: dimension %d not divisible by %d subspaces", ErrConfigError, idx.dimension, idx.cfg.Subspaces)
	}

	buildStart := time.Now()
	idx.cfg.Logger.Info("build starting", map[string]interface{}{
		"vectors":   len(idx.buildVectors),
		"dimension": idx.dimension,
		"subspaces": idx.cfg.Subspaces,
	})

	pqStart := time.Now()
	pqCfg := pq.DefaultConfig()
	pqCfg.RandomSeed = idx.cfg.RandomSeed
	pqCfg.Metric = idx.cfg.Metric
	quantizer, err := pq.New(idx.dimension, idx.cfg.Subspaces, pqCfg)
	if err != nil {
		return fmt.Errorf("vamana: constructing PQ quantizer: %w", err)
	}
	if err := quantizer.Train(idx.buildVectors); err != nil {
		return fmt.Errorf("vamana: training PQ codebooks: %w", err)
	}
	codes := quantizer.EncodeAll(idx.buildVectors)
	if idx.cfg.Metrics != nil {
		ratio := float64(idx.dimension*4) / float64(idx.cfg.Subspaces)
		idx.cfg.Metrics.RecordPQTraining(time.Since(pqStart), ratio)
	}

	buildCfg := BuildConfig{
		L:          idx.cfg.L,
		M:          idx.cfg.M,
		Alpha:      idx.cfg.Alpha,
		Workers:    idx.cfg.Workers,
		RandomSeed: idx.cfg.RandomSeed,
	}
	graph, err := BuildGraph(ctx, idx.buildVectors, idx.cfg.Metric, buildCfg)
	if err != nil {
		return fmt.Errorf("vamana: building graph: %w", err)
	}

	medoid := graph.medoid()
	if err := SaveToDisk(idx.cfg.DataPath, graph, medoid, quantizer, codes, idx.externalIDs); err != nil {
		return fmt.Errorf("vamana: persisting index: %w", err)
	}

	disk, err := OpenDiskGraph(idx.cfg.DataPath, idx.cfg.Metric, pqCfg)
	if err != nil {
		return fmt.Errorf("vamana: reopening persisted index: %w", err)
	}

	idx.graph = graph
	idx.disk = disk
	idx.quantizer = quantizer
	idx.stats = computeStats(graph, quantizer)
	idx.built = true

	idx.buildVectors = nil
	idx.externalIDs = nil

	if idx.cfg.Metrics != nil {
		idx.cfg.Metrics.RecordBuild(time.Since(buildStart), idx.stats.VertexCount, idx.stats.AverageDegree)
	}
	idx.cfg.Logger.Info("build complete", map[string]interface{}{
		"vertices":      idx.stats.VertexCount,
		"averageDegree": idx.stats.AverageDegree,
		"elapsed":       time.Since(buildStart).String(),
	})

	return nil
}

func computeStats(g *Graph, q *pq.Quantizer) Stats {
	total := 0
	for i := 0; i < g.N(); i++ {
		total += g.getNeighboursSize(uint64(i))
	}
	avg := 0.0
	if g.N() > 0 {
		avg = float64(total) / float64(g.N())
	}

	ratio := 0.0
	if q != nil && q.Trained() && q.Subspaces() > 0 {
		ratio = float64(g.D()*4) / float64(q.Subspaces())
	}
	return Stats{VertexCount: g.N(), AverageDegree: avg, PQCompressionRatio: ratio}
}

// Search returns up to k approximate nearest neighbor vertex ids for
// query.
func (idx *Index) Search(query []float32, k int) ([]uint64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.built {
		return nil, fmt.Errorf("%w: index not built yet", ErrInvariantViolation)
	}

	start := time.Now()
	results, err := idx.disk.Search(query, k, idx.cfg.L)
	if err != nil {
		return nil, err
	}
	if idx.cfg.Metrics != nil {
		idx.cfg.Metrics.RecordSearch(time.Since(start), len(results), idx.cfg.L)
	}
	return results, nil
}

// Stats reports the counters gathered at the end of Build.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.stats
}

// IsBuilt reports whether Build has completed successfully.
func (idx *Index) IsBuilt() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.built
}

// Close releases the disk-resident reader's file handle.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.disk != nil {
		return idx.disk.Close()
	}
	return nil
}
