// Package pq implements Product Quantization: per-subspace codebook
// training by mini-batch k-means, vector encoding, and the query-time
// lookup-table distance approximation that pkg/vamana's disk graph
// reader uses to pre-filter candidates before a precise re-rank.
package pq

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/vamanadb/vamanadb/internal/vecmath"
)

// K is the fixed codebook size per subspace (spec.md §3: "K = 256").
const K = 256

// Config tunes mini-batch k-means training.
type Config struct {
	RandomSeed             int64
	BatchSize              int // must be a multiple of 4
	MaxIterations           int
	ReassignmentThreshold  float64 // stop once the reassignment pass after a batch changes at most this fraction of points
	Metric                 vecmath.Metric
}

// DefaultConfig mirrors the values spec.md §4.2 calls out.
func DefaultConfig() Config {
	return Config{
		RandomSeed:            1,
		BatchSize:             16,
		MaxIterations:         1000,
		ReassignmentThreshold: 0.001,
		Metric:                vecmath.L2,
	}
}

// Quantizer partitions a D-dimensional vector into Q subspaces and
// quantizes each independently into one of K centroid indices.
type Quantizer struct {
	dim       int
	subspaces int // Q
	subDim    int // D / Q
	codebooks [][][]float32 // [subspace][code][subDim]
	cfg       Config
}

// New builds a Quantizer. numSubspaces must divide dim evenly (this is
// the "pqCompression divides D*sizeof(float) evenly" invariant from
// spec.md §3, restated in terms of element counts rather than bytes
// since Q*sizeof(float32) | D*sizeof(float32) iff Q | D), and cfg's
// batch size must be a multiple of 4.
func New(dim, numSubspaces int, cfg Config) (*Quantizer, error) {
	if numSubspaces < 1 {
		return nil, fmt.Errorf("%w: subspace count must be >= 1, got %d", ErrConfig, numSubspaces)
	}
	if dim%numSubspaces != 0 {
		return nil, fmt.Errorf("%w: dimension %d not evenly divisible by %d subspaces", ErrConfig, dim, numSubspaces)
	}
	if cfg.BatchSize%4 != 0 {
		return nil, fmt.Errorf("%w: batch size %d must be a multiple of 4", ErrConfig, cfg.BatchSize)
	}
	if cfg.Metric == nil {
		cfg.Metric = vecmath.L2
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1000
	}
	return &Quantizer{
		dim:       dim,
		subspaces: numSubspaces,
		subDim:    dim / numSubspaces,
		cfg:       cfg,
	}, nil
}

func (q *Quantizer) Dim() int        { return q.dim }
func (q *Quantizer) Subspaces() int  { return q.subspaces }
func (q *Quantizer) SubDim() int     { return q.subDim }
func (q *Quantizer) Trained() bool   { return q.codebooks != nil }

// Train runs independent mini-batch SGD k-means per subspace.
func (q *Quantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("%w: no training vectors", ErrConfig)
	}

	codebooks := make([][][]float32, q.subspaces)
	for sv := 0; sv < q.subspaces; sv++ {
		sub := extractSubvectors(vectors, sv, q.subDim)
		seed := q.cfg.RandomSeed + int64(sv)*7919
		centroids := initCentroids(sub, K, seed)
		trainSubspace(sub, centroids, q.cfg, seed)
		codebooks[sv] = centroids
	}
	q.codebooks = codebooks
	return nil
}

func extractSubvectors(vectors [][]float32, subspace, subDim int) [][]float32 {
	start := subspace * subDim
	end := start + subDim
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		sub := make([]float32, subDim)
		copy(sub, v[start:end])
		out[i] = sub
	}
	return out
}

// initCentroids follows spec.md §4.2's three-way initialization:
// reuse every vector when N <= K, shuffle-sample distinct vectors when
// N < 4K, otherwise reject-sample distinct indices uniformly.
func initCentroids(vectors [][]float32, k int, seed int64) [][]float32 {
	n := len(vectors)
	dim := len(vectors[0])
	r := rand.New(rand.NewSource(seed))
	centroids := make([][]float32, k)

	switch {
	case n <= k:
		for i := 0; i < k; i++ {
			centroids[i] = cloneVec(vectors[i%n], dim)
		}
	case n < 4*k:
		perm := r.Perm(n)
		for i := 0; i < k; i++ {
			centroids[i] = cloneVec(vectors[perm[i]], dim)
		}
	default:
		seen := make(map[int]bool, k)
		for i := 0; i < k; i++ {
			for {
				idx := r.Intn(n)
				if !seen[idx] {
					seen[idx] = true
					centroids[i] = cloneVec(vectors[idx], dim)
					break
				}
			}
		}
	}
	return centroids
}

func cloneVec(v []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// trainSubspace runs up to cfg.MaxIterations mini-batches of size
// cfg.BatchSize, with per-cluster learning rate 1/count(c), stopping
// once a full-dataset reassignment pass changes at most
// cfg.ReassignmentThreshold of the points.
func trainSubspace(vectors [][]float32, centroids [][]float32, cfg Config, seed int64) {
	n := len(vectors)
	counts := make([]int, len(centroids))
	assignments := make([]int, n)
	for i, v := range vectors {
		assignments[i] = nearestCentroid(v, centroids, cfg.Metric)
	}

	r := rand.New(rand.NewSource(seed + 104729))
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		for b := 0; b < cfg.BatchSize; b++ {
			idx := r.Intn(n)
			v := vectors[idx]
			c := nearestCentroid(v, centroids, cfg.Metric)
			counts[c]++
			lr := 1 / float32(counts[c])
			centroid := centroids[c]
			for d := range centroid {
				centroid[d] += lr * (v[d] - centroid[d])
			}
		}

		changed := 0
		for i, v := range vectors {
			c := nearestCentroid(v, centroids, cfg.Metric)
			if c != assignments[i] {
				changed++
				assignments[i] = c
			}
		}
		if n > 0 && float64(changed)/float64(n) <= cfg.ReassignmentThreshold {
			break
		}
	}
}

// nearestCentroid returns argmin_c metric(v, centroids[c]), processing
// centroids four at a time when a batch-of-4 metric implementation is
// available.
func nearestCentroid(v []float32, centroids [][]float32, metric vecmath.Metric) int {
	best := 0
	bestDist := float32(math.MaxFloat32)
	n := len(centroids)
	i := 0
	var out [4]float32
	for ; i+4 <= n; i += 4 {
		batch4(metric, v, centroids[i], centroids[i+1], centroids[i+2], centroids[i+3], out[:])
		for j := 0; j < 4; j++ {
			if out[j] < bestDist {
				bestDist = out[j]
				best = i + j
			}
		}
	}
	for ; i < n; i++ {
		d := metric(v, centroids[i])
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func batch4(metric vecmath.Metric, query, c0, c1, c2, c3 []float32, out []float32) {
	vecmath.Batch4(metric, query, [4][]float32{c0, c1, c2, c3}, out)
}

// Encode maps a D-dimensional vector to Q byte codes, one per subspace.
func (q *Quantizer) Encode(vector []float32) []byte {
	codes := make([]byte, q.subspaces)
	for sv := 0; sv < q.subspaces; sv++ {
		start := sv * q.subDim
		sub := vector[start : start+q.subDim]
		codes[sv] = byte(nearestCentroid(sub, q.codebooks[sv], q.cfg.Metric))
	}
	return codes
}

// EncodeAll encodes every vector, producing the contiguous N*Q code
// array spec.md §3 describes.
func (q *Quantizer) EncodeAll(vectors [][]float32) []byte {
	codes := make([]byte, len(vectors)*q.subspaces)
	for i, v := range vectors {
		copy(codes[i*q.subspaces:(i+1)*q.subspaces], q.Encode(v))
	}
	return codes
}

// LookupTable is a Q x K matrix of query-to-centroid distances built
// once per query and reused for every candidate's approximate distance.
type LookupTable [][]float32

// BuildLookupTable precomputes the distance from each subspace of query
// to every centroid in that subspace's codebook.
func (q *Quantizer) BuildLookupTable(query []float32) LookupTable {
	table := make(LookupTable, q.subspaces)
	for sv := 0; sv < q.subspaces; sv++ {
		start := sv * q.subDim
		sub := query[start : start+q.subDim]
		row := make([]float32, len(q.codebooks[sv]))
		for c, centroid := range q.codebooks[sv] {
			row[c] = q.cfg.Metric(sub, centroid)
		}
		table[sv] = row
	}
	return table
}

// Distance returns the approximate distance for one PQ-coded vector.
func (t LookupTable) Distance(code []byte) float32 {
	var sum float32
	for sv, c := range code {
		sum += t[sv][c]
	}
	return sum
}

// DistanceBatch4 returns the approximate distance for four PQ-coded
// vectors at once, amortizing the per-candidate address arithmetic.
func (t LookupTable) DistanceBatch4(codes [4][]byte, out []float32) {
	var s0, s1, s2, s3 float32
	q := len(t)
	for sv := 0; sv < q; sv++ {
		row := t[sv]
		s0 += row[codes[0][sv]]
		s1 += row[codes[1][sv]]
		s2 += row[codes[2][sv]]
		s3 += row[codes[3][sv]]
	}
	out[0] = s0
	out[1] = s1
	out[2] = s2
	out[3] = s3
}

// Marshal serializes the trained codebooks for the on-disk sidecar
// spec.md §6 describes ("PQ codebooks (Q x K x (D/Q) x float32)").
func (q *Quantizer) Marshal() ([]byte, error) {
	if !q.Trained() {
		return nil, fmt.Errorf("%w: quantizer not trained", ErrConfig)
	}
	header := 12
	body := q.subspaces * K * q.subDim * 4
	buf := make([]byte, header+body)

	binary.LittleEndian.PutUint32(buf[0:], uint32(q.dim))
	binary.LittleEndian.PutUint32(buf[4:], uint32(q.subspaces))
	binary.LittleEndian.PutUint32(buf[8:], uint32(q.subDim))

	off := header
	for sv := 0; sv < q.subspaces; sv++ {
		for c := 0; c < K; c++ {
			centroid := q.codebooks[sv][c]
			for d := 0; d < q.subDim; d++ {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(centroid[d]))
				off += 4
			}
		}
	}
	return buf, nil
}

// Unmarshal loads a codebook sidecar previously produced by Marshal.
func Unmarshal(data []byte, cfg Config) (*Quantizer, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: codebook sidecar too short", ErrConfig)
	}
	dim := int(binary.LittleEndian.Uint32(data[0:]))
	subspaces := int(binary.LittleEndian.Uint32(data[4:]))
	subDim := int(binary.LittleEndian.Uint32(data[8:]))

	q, err := New(dim, subspaces, cfg)
	if err != nil {
		return nil, err
	}
	if q.subDim != subDim {
		return nil, fmt.Errorf("%w: subspace dim mismatch: header says %d, computed %d", ErrConfig, subDim, q.subDim)
	}

	off := 12
	codebooks := make([][][]float32, subspaces)
	for sv := 0; sv < subspaces; sv++ {
		codebooks[sv] = make([][]float32, K)
		for c := 0; c < K; c++ {
			centroid := make([]float32, subDim)
			for d := 0; d < subDim; d++ {
				if off+4 > len(data) {
					return nil, fmt.Errorf("%w: codebook sidecar truncated", ErrConfig)
				}
				centroid[d] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
				off += 4
			}
			codebooks[sv][c] = centroid
		}
	}
	q.codebooks = codebooks
	return q, nil
}
