package vamana

import (
	"context"
	"testing"

	"github.com/vamanadb/vamanadb/internal/vecmath"
)

func TestBuildGraphRespectsMaxDegree(t *testing.T) {
	vectors := randomVectors(200, 8, 100)
	cfg := DefaultBuildConfig()
	cfg.M = 6
	cfg.L = 20
	cfg.Workers = 4

	g, err := BuildGraph(context.Background(), vectors, vecmath.L2, cfg)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	for i := 0; i < g.N(); i++ {
		neighbors := g.fetchNeighbours(uint64(i))
		if len(neighbors) > g.M() {
			t.Fatalf("vertex %d has %d neighbors, exceeds M=%d", i, len(neighbors), g.M())
		}
		for _, n := range neighbors {
			if n == uint64(i) {
				t.Fatalf("vertex %d has a self-loop", i)
			}
		}
	}
}

func TestBuildGraphIsConnectedFromMedoid(t *testing.T) {
	vectors := randomVectors(150, 8, 101)
	cfg := DefaultBuildConfig()
	cfg.M = 8
	cfg.L = 32
	cfg.Workers = 4

	g, err := BuildGraph(context.Background(), vectors, vecmath.L2, cfg)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	medoid := g.medoid()
	seen := make(map[uint64]bool)
	queue := []uint64{medoid}
	seen[medoid] = true
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, n := range g.fetchNeighbours(v) {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}

	if len(seen) != g.N() {
		t.Fatalf("BFS from medoid reached %d/%d vertices", len(seen), g.N())
	}
}

func TestBuildGraphSingleVertex(t *testing.T) {
	vectors := randomVectors(1, 4, 102)
	cfg := DefaultBuildConfig()

	g, err := BuildGraph(context.Background(), vectors, vecmath.L2, cfg)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if g.N() != 1 {
		t.Fatalf("N = %d, want 1", g.N())
	}
}

func TestBuildGraphRejectsBadConfig(t *testing.T) {
	vectors := randomVectors(10, 4, 103)
	cfg := DefaultBuildConfig()
	cfg.Alpha = 0.5

	if _, err := BuildGraph(context.Background(), vectors, vecmath.L2, cfg); err == nil {
		t.Fatal("expected ErrConfigError for alpha < 1.0")
	}
}
