package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the index and transaction log.
type Metrics struct {
	// Build metrics
	BuildsTotal     prometheus.Counter
	BuildDuration   prometheus.Histogram
	BuildVertices   prometheus.Gauge
	BuildAvgDegree  prometheus.Gauge
	WorkerQueueSize *prometheus.GaugeVec

	// PQ training metrics
	PQTrainingsTotal    prometheus.Counter
	PQTrainingDuration  prometheus.Histogram
	PQCompressionRatio  prometheus.Gauge

	// Search metrics
	SearchesTotal    prometheus.Counter
	SearchLatency    prometheus.Histogram
	SearchResultSize prometheus.Histogram
	SearchCandidates prometheus.Histogram

	// Disk graph metrics
	DiskPageReads  prometheus.Counter
	DiskPageCacheHits   prometheus.Counter
	DiskPageCacheMisses prometheus.Counter

	// MVCC metrics
	MVCCCommitsTotal    prometheus.Counter
	MVCCConflictsTotal  prometheus.Counter
	MVCCReadsTotal      prometheus.Counter
	MVCCGCReclaimedTotal prometheus.Counter
	MVCCActiveReaders   prometheus.Gauge

	// System metrics
	GoroutinesCount prometheus.Gauge
	MemoryUsage     prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		BuildsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_builds_total",
				Help: "Total number of index builds started",
			},
		),
		BuildDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vamana_build_duration_seconds",
				Help:    "Index build duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600, 1800},
			},
		),
		BuildVertices: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vamana_build_vertices",
				Help: "Number of vertices in the most recently built graph",
			},
		),
		BuildAvgDegree: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vamana_build_average_degree",
				Help: "Average out-degree of the most recently built graph",
			},
		),
		WorkerQueueSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vamana_build_worker_queue_size",
				Help: "Pending inbox size per build worker",
			},
			[]string{"worker"},
		),

		PQTrainingsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_pq_trainings_total",
				Help: "Total number of PQ codebook training runs",
			},
		),
		PQTrainingDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vamana_pq_training_duration_seconds",
				Help:    "PQ codebook k-means training duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300},
			},
		),
		PQCompressionRatio: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vamana_pq_compression_ratio",
				Help: "Ratio of raw vector bytes to PQ-encoded bytes for the trained codebook",
			},
		),

		SearchesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_searches_total",
				Help: "Total number of search operations",
			},
		),
		SearchLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vamana_search_latency_seconds",
				Help:    "Search latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		SearchResultSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vamana_search_result_size",
				Help:    "Number of results returned by search",
				Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500},
			},
		),
		SearchCandidates: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vamana_search_candidates_visited",
				Help:    "Number of graph vertices visited by greedy search per query",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
			},
		),

		DiskPageReads: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_disk_page_reads_total",
				Help: "Total number of graph pages read from disk",
			},
		),
		DiskPageCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_disk_page_cache_hits_total",
				Help: "Total number of disk page cache hits",
			},
		),
		DiskPageCacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_disk_page_cache_misses_total",
				Help: "Total number of disk page cache misses",
			},
		),

		MVCCCommitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_mvcc_commits_total",
				Help: "Total number of write transactions committed",
			},
		),
		MVCCConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_mvcc_conflicts_total",
				Help: "Total number of write transactions reverted due to a conflict",
			},
		),
		MVCCReadsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_mvcc_reads_total",
				Help: "Total number of Store.Read calls",
			},
		),
		MVCCGCReclaimedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vamana_mvcc_gc_reclaimed_total",
				Help: "Total number of transaction bookkeeping ranges coalesced by GC sweeps",
			},
		),
		MVCCActiveReaders: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vamana_mvcc_active_readers",
				Help: "Current number of registered read transactions",
			},
		),

		GoroutinesCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vamana_goroutines",
				Help: "Current number of goroutines",
			},
		),
		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vamana_memory_bytes",
				Help: "Memory usage in bytes",
			},
		),
	}
}

// RecordBuild records a completed index build.
func (m *Metrics) RecordBuild(duration time.Duration, vertices int, avgDegree float64) {
	m.BuildsTotal.Inc()
	m.BuildDuration.Observe(duration.Seconds())
	m.BuildVertices.Set(float64(vertices))
	m.BuildAvgDegree.Set(avgDegree)
}

// UpdateWorkerQueueSize reports one build worker's current inbox depth.
func (m *Metrics) UpdateWorkerQueueSize(worker string, size int) {
	m.WorkerQueueSize.WithLabelValues(worker).Set(float64(size))
}

// RecordPQTraining records a completed PQ codebook training run.
func (m *Metrics) RecordPQTraining(duration time.Duration, compressionRatio float64) {
	m.PQTrainingsTotal.Inc()
	m.PQTrainingDuration.Observe(duration.Seconds())
	m.PQCompressionRatio.Set(compressionRatio)
}

// RecordSearch records a search operation.
func (m *Metrics) RecordSearch(duration time.Duration, resultSize, candidatesVisited int) {
	m.SearchesTotal.Inc()
	m.SearchLatency.Observe(duration.Seconds())
	m.SearchResultSize.Observe(float64(resultSize))
	m.SearchCandidates.Observe(float64(candidatesVisited))
}

// RecordDiskPageRead records one on-disk page fetch.
func (m *Metrics) RecordDiskPageRead() {
	m.DiskPageReads.Inc()
}

// RecordDiskPageCacheHit records a disk page cache hit.
func (m *Metrics) RecordDiskPageCacheHit() {
	m.DiskPageCacheHits.Inc()
}

// RecordDiskPageCacheMiss records a disk page cache miss.
func (m *Metrics) RecordDiskPageCacheMiss() {
	m.DiskPageCacheMisses.Inc()
}

// RecordMVCCCommit records a write transaction that committed successfully.
func (m *Metrics) RecordMVCCCommit() {
	m.MVCCCommitsTotal.Inc()
}

// RecordMVCCConflict records a write transaction reverted for a conflict.
func (m *Metrics) RecordMVCCConflict() {
	m.MVCCConflictsTotal.Inc()
}

// RecordMVCCRead records a Store.Read call.
func (m *Metrics) RecordMVCCRead() {
	m.MVCCReadsTotal.Inc()
}

// RecordMVCCGCReclaimed records that a GC sweep coalesced n transaction
// bookkeeping ranges.
func (m *Metrics) RecordMVCCGCReclaimed(n int) {
	m.MVCCGCReclaimedTotal.Add(float64(n))
}

// UpdateMVCCActiveReaders reports the current number of registered read
// transactions.
func (m *Metrics) UpdateMVCCActiveReaders(count int) {
	m.MVCCActiveReaders.Set(float64(count))
}

// UpdateGoroutineCount updates goroutine count.
func (m *Metrics) UpdateGoroutineCount(count int) {
	m.GoroutinesCount.Set(float64(count))
}

// UpdateMemoryUsage updates memory usage.
func (m *Metrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}
