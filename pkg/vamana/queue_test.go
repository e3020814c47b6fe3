package vamana

import (
	"math"
	"testing"
)

func TestBoundedQueueAddOrdersByDistance(t *testing.T) {
	q := NewBoundedQueue(3)
	q.Add(1, 5.0, false)
	q.Add(2, 1.0, false)
	q.Add(3, 3.0, false)

	want := []uint64{2, 3, 1}
	for i, w := range want {
		if got := q.VertexIndex(i); got != w {
			t.Fatalf("pos %d = %d, want %d", i, got, w)
		}
	}
}

func TestBoundedQueueEvictsWorstAtCapacity(t *testing.T) {
	q := NewBoundedQueue(2)
	q.Add(1, 5.0, false)
	q.Add(2, 1.0, false)

	if ok := q.Add(3, 10.0, false); ok {
		t.Fatal("expected Add to reject a candidate worse than the current max at capacity")
	}
	if q.Size() != 2 {
		t.Fatalf("Size = %d, want 2", q.Size())
	}

	if ok := q.Add(4, 0.5, false); !ok {
		t.Fatal("expected Add to accept a candidate better than the current max")
	}
	if q.VertexIndex(0) != 4 {
		t.Fatalf("closest vertex = %d, want 4", q.VertexIndex(0))
	}
	if q.Size() != 2 {
		t.Fatalf("Size after eviction = %d, want 2", q.Size())
	}
}

func TestBoundedQueueMaxDistanceEmptyIsInf(t *testing.T) {
	q := NewBoundedQueue(4)
	if got := q.MaxDistance(); !math.IsInf(float64(got), 1) {
		t.Fatalf("MaxDistance on empty queue = %v, want +Inf", got)
	}
}

func TestNextNotCheckedVertexIndexMarksChecked(t *testing.T) {
	q := NewBoundedQueue(4)
	q.Add(1, 1.0, false)
	q.Add(2, 2.0, false)

	pos := q.NextNotCheckedVertexIndex()
	if pos != 0 {
		t.Fatalf("first unchecked pos = %d, want 0", pos)
	}
	pos = q.NextNotCheckedVertexIndex()
	if pos != 1 {
		t.Fatalf("second unchecked pos = %d, want 1", pos)
	}
	if pos := q.NextNotCheckedVertexIndex(); pos != -1 {
		t.Fatalf("expected -1 once all entries are checked, got %d", pos)
	}
}

func TestResortVertexReordersAndClearsPQFlag(t *testing.T) {
	q := NewBoundedQueue(4)
	q.Add(1, 1.0, true)
	q.Add(2, 5.0, true)
	q.Add(3, 9.0, true)

	// vertex 3 at pos 2 turns out to be much closer than believed.
	newPos := q.ResortVertex(2, 0.5)
	if newPos != 0 {
		t.Fatalf("new position = %d, want 0", newPos)
	}
	if q.VertexIndex(0) != 3 {
		t.Fatalf("closest vertex after resort = %d, want 3", q.VertexIndex(0))
	}
	if q.IsPqDistance(0) {
		t.Fatal("expected resorted entry to no longer carry a PQ distance")
	}
}

func TestResortVertexDoesNotMarkChecked(t *testing.T) {
	q := NewBoundedQueue(4)
	q.Add(1, 5.0, true)
	q.ResortVertex(0, 2.0)

	pos := q.NextNotCheckedVertexIndex()
	if pos != 0 {
		t.Fatalf("resorted-but-unchecked entry should still be the next target, got pos %d", pos)
	}
}

func TestPendingPQIndicesSkipsCheckedAndPrecise(t *testing.T) {
	q := NewBoundedQueue(4)
	q.Add(1, 1.0, true)  // pending, will be marked checked below
	q.Add(2, 2.0, false) // already precise, never pending
	q.Add(3, 3.0, true)  // stays pending

	// NextNotCheckedVertexIndex always returns the nearest unchecked
	// entry, so one call marks vertex 1 (the closest) checked.
	pos := q.NextNotCheckedVertexIndex()
	if q.VertexIndex(pos) != 1 {
		t.Fatalf("expected vertex 1 to be marked checked first, got %d", q.VertexIndex(pos))
	}

	out := make([]int, 4)
	n := q.PendingPQIndices(out, 4)
	if n != 1 {
		t.Fatalf("pending count = %d, want 1 (only vertex 3 should remain pending)", n)
	}
	if q.VertexIndex(out[0]) != 3 {
		t.Fatalf("pending vertex = %d, want 3", q.VertexIndex(out[0]))
	}
}

func TestVertexIndicesCapsAtSize(t *testing.T) {
	q := NewBoundedQueue(4)
	q.Add(1, 1.0, false)
	q.Add(2, 2.0, false)

	out := make([]uint64, 5)
	n := q.VertexIndices(out, 5)
	if n != 2 {
		t.Fatalf("VertexIndices count = %d, want 2", n)
	}
	if out[0] != 1 || out[1] != 2 {
		t.Fatalf("VertexIndices = %v, want [1 2]", out[:n])
	}
}
