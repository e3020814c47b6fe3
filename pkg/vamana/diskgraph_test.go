package vamana

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/vamanadb/vamanadb/internal/pq"
	"github.com/vamanadb/vamanadb/internal/vecmath"
)

func buildTestDiskGraph(t *testing.T, n, dim int) (*DiskGraph, [][]float32) {
	t.Helper()

	vectors := randomVectors(n, dim, 200)
	cfg := DefaultBuildConfig()
	cfg.M = 8
	cfg.L = 24
	cfg.Workers = 4

	g, err := BuildGraph(context.Background(), vectors, vecmath.L2, cfg)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	pqCfg := pq.DefaultConfig()
	pqCfg.MaxIterations = 20
	quantizer, err := pq.New(dim, 2, pqCfg)
	if err != nil {
		t.Fatalf("pq.New: %v", err)
	}
	if err := quantizer.Train(vectors); err != nil {
		t.Fatalf("Train: %v", err)
	}
	codes := quantizer.EncodeAll(vectors)

	path := filepath.Join(t.TempDir(), "index")
	if err := SaveToDisk(path, g, g.medoid(), quantizer, codes, nil); err != nil {
		t.Fatalf("SaveToDisk: %v", err)
	}

	dg, err := OpenDiskGraph(path, vecmath.L2, pqCfg)
	if err != nil {
		t.Fatalf("OpenDiskGraph: %v", err)
	}
	t.Cleanup(func() { dg.Close() })

	return dg, vectors
}

func TestSaveAndOpenRoundTripsVectorsAndNeighbours(t *testing.T) {
	dg, vectors := buildTestDiskGraph(t, 40, 8)

	if dg.N() != len(vectors) {
		t.Fatalf("N = %d, want %d", dg.N(), len(vectors))
	}

	for i, want := range vectors {
		got, err := dg.readVector(uint64(i))
		if err != nil {
			t.Fatalf("readVector(%d): %v", i, err)
		}
		for d := range want {
			if got[d] != want[d] {
				t.Fatalf("vector %d dim %d = %v, want %v", i, d, got[d], want[d])
			}
		}
	}
}

func TestDiskGraphSearchReturnsKResults(t *testing.T) {
	dg, vectors := buildTestDiskGraph(t, 60, 8)

	results, err := dg.Search(vectors[0], 5, 40)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("Search returned %d results, want 5", len(results))
	}

	seen := make(map[uint64]bool)
	for _, id := range results {
		if seen[id] {
			t.Fatalf("duplicate result %d", id)
		}
		seen[id] = true
	}
}

func TestDiskGraphSearchFindsSelfAsNearest(t *testing.T) {
	dg, vectors := buildTestDiskGraph(t, 80, 8)

	target := uint64(10)
	results, err := dg.Search(vectors[target], 1, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0] != target {
		t.Fatalf("Search(vectors[%d], 1) = %v, want [%d]", target, results, target)
	}
}
