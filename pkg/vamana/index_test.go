package vamana

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndexConfig(t *testing.T) IndexConfig {
	t.Helper()
	cfg := DefaultIndexConfig()
	cfg.DataPath = filepath.Join(t.TempDir(), "index")
	cfg.M = 8
	cfg.L = 24
	cfg.Subspaces = 2
	cfg.Workers = 4
	return cfg
}

func buildTestIndex(t *testing.T, n, dim int) (*Index, [][]float32) {
	t.Helper()

	idx, err := New(newTestIndexConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vectors := randomVectors(n, dim, 300)
	for i, v := range vectors {
		if _, err := idx.AddVector(v, []byte{byte(i)}); err != nil {
			t.Fatalf("AddVector(%d): %v", i, err)
		}
	}

	if err := idx.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	return idx, vectors
}

func TestNewRejectsMissingDataPath(t *testing.T) {
	cfg := DefaultIndexConfig()
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for empty DataPath")
	}
}

func TestAddVectorRejectsMismatchedDimension(t *testing.T) {
	idx, err := New(newTestIndexConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := idx.AddVector([]float32{1, 2, 4, 8}, nil); err != nil {
		t.Fatalf("AddVector: %v", err)
	}
	if _, err := idx.AddVector([]float32{1, 2}, nil); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestAddVectorRejectsAfterBuild(t *testing.T) {
	idx, vectors := buildTestIndex(t, 20, 8)
	if _, err := idx.AddVector(vectors[0], nil); err == nil {
		t.Fatal("expected error adding a vector after Build")
	}
}

func TestBuildRejectsEmptyIndex(t *testing.T) {
	idx, err := New(newTestIndexConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Build(context.Background()); err == nil {
		t.Fatal("expected error building an index with no vectors")
	}
}

func TestBuildRejectsIndivisibleSubspaces(t *testing.T) {
	cfg := newTestIndexConfig(t)
	cfg.Subspaces = 3
	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := idx.AddVector(make([]float32, 8), nil); err != nil {
		t.Fatalf("AddVector: %v", err)
	}
	if err := idx.Build(context.Background()); err == nil {
		t.Fatal("expected error building with a subspace count that doesn't divide dimension")
	}
}

func TestIndexBuildThenSearchFindsSelf(t *testing.T) {
	idx, vectors := buildTestIndex(t, 60, 8)

	if !idx.IsBuilt() {
		t.Fatal("IsBuilt() = false after a successful Build")
	}

	target := 5
	results, err := idx.Search(vectors[target], 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0] != uint64(target) {
		t.Fatalf("Search(vectors[%d], 1) = %v, want [%d]", target, results, target)
	}
}

func TestIndexSearchBeforeBuildFails(t *testing.T) {
	idx, err := New(newTestIndexConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := idx.Search([]float32{1, 2}, 1); err == nil {
		t.Fatal("expected error searching an unbuilt index")
	}
}

func TestIndexStatsReflectsBuild(t *testing.T) {
	idx, vectors := buildTestIndex(t, 50, 8)

	stats := idx.Stats()
	if stats.VertexCount != len(vectors) {
		t.Fatalf("VertexCount = %d, want %d", stats.VertexCount, len(vectors))
	}
	if stats.AverageDegree <= 0 {
		t.Fatalf("AverageDegree = %v, want > 0", stats.AverageDegree)
	}
	if stats.PQCompressionRatio <= 0 {
		t.Fatalf("PQCompressionRatio = %v, want > 0", stats.PQCompressionRatio)
	}
}

func TestBuildTwiceFails(t *testing.T) {
	idx, _ := buildTestIndex(t, 20, 8)
	if err := idx.Build(context.Background()); err == nil {
		t.Fatal("expected error on second Build call")
	}
}
