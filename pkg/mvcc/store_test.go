package mvcc

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func TestPutThenReadRoundTrip(t *testing.T) {
	s := NewStore(nil, nil)

	t1 := s.StartWriteTransaction()
	if err := s.Put(t1, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Commit(t1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	t2 := s.StartReadTransaction()
	defer s.EndReadTransaction(t2)

	value, found, err := s.Read(t2, []byte("k"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("expected v1, got %q", value)
	}
}

func TestReadMissingKeyNotFound(t *testing.T) {
	s := NewStore(nil, nil)
	tx := s.StartReadTransaction()
	defer s.EndReadTransaction(tx)

	_, found, err := s.Read(tx, []byte("missing"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found {
		t.Fatal("expected missing key to be not found")
	}
}

func TestRemoveIsVisibleAsTombstone(t *testing.T) {
	s := NewStore(nil, nil)

	t1 := s.StartWriteTransaction()
	mustPut(t, s, t1, "k", "v1")
	mustCommit(t, s, t1)

	t2 := s.StartWriteTransaction()
	if err := s.Remove(t2, []byte("k")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	mustCommit(t, s, t2)

	t3 := s.StartReadTransaction()
	defer s.EndReadTransaction(t3)
	value, found, err := s.Read(t3, []byte("k"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found {
		t.Fatal("expected tombstone to be found")
	}
	if value != nil {
		t.Fatalf("expected nil value for tombstone, got %q", value)
	}
}

// TestWriteWriteConflict reproduces spec.md's concrete write-write
// conflict scenario: T1 and T2 both begin before either commits, with
// T1.snap < T2.snap. T2 commits first; T1's commit must then fail because
// its own record's maxTransactionId was advanced past T1's snapshot by
// T2's insert-then-check order.
func TestWriteWriteConflict(t *testing.T) {
	s := NewStore(nil, nil)

	t1 := s.StartWriteTransaction()
	t2 := s.StartWriteTransaction()
	if t1.SnapshotID() >= t2.SnapshotID() {
		t.Fatalf("expected t1.snap < t2.snap, got %d >= %d", t1.SnapshotID(), t2.SnapshotID())
	}

	mustPut(t, s, t2, "k", "v2")
	mustCommit(t, s, t2)

	mustPut(t, s, t1, "k", "v1")
	if err := s.Commit(t1); !errors.Is(err, ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict, got %v", err)
	}
}

func TestCommitEmptyTransactionIsNoop(t *testing.T) {
	s := NewStore(nil, nil)
	tx := s.StartWriteTransaction()
	if err := s.Commit(tx); err != nil {
		t.Fatalf("Commit of empty transaction: %v", err)
	}
}

func TestReadTransactionCannotWrite(t *testing.T) {
	s := NewStore(nil, nil)
	tx := s.StartReadTransaction()
	defer s.EndReadTransaction(tx)

	if err := s.Put(tx, []byte("k"), []byte("v")); !errors.Is(err, ErrConfigError) {
		t.Fatalf("expected ErrConfigError, got %v", err)
	}
	if err := s.Commit(tx); !errors.Is(err, ErrConfigError) {
		t.Fatalf("expected ErrConfigError, got %v", err)
	}
}

func TestActiveSnapshotsTracksRegisteredReaders(t *testing.T) {
	s := NewStore(nil, nil)
	r1 := s.StartReadTransaction()
	r2 := s.StartReadTransaction()

	snaps := s.ActiveSnapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 active snapshots, got %d", len(snaps))
	}

	s.EndReadTransaction(r1)
	s.EndReadTransaction(r2)
	if len(s.ActiveSnapshots()) != 0 {
		t.Fatalf("expected 0 active snapshots after ending both, got %d", len(s.ActiveSnapshots()))
	}
}

func TestRevertedWriteIsNeverVisible(t *testing.T) {
	s := NewStore(nil, nil)

	t1 := s.StartWriteTransaction()
	t2 := s.StartWriteTransaction()
	mustPut(t, s, t2, "k", "v2")
	mustCommit(t, s, t2)

	mustPut(t, s, t1, "k", "v1")
	if err := s.Commit(t1); !errors.Is(err, ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict, got %v", err)
	}

	reader := s.StartReadTransaction()
	defer s.EndReadTransaction(reader)
	value, found, err := s.Read(reader, []byte("k"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v2")) {
		t.Fatalf("expected committed v2, got found=%v value=%q", found, value)
	}
}

func TestConcurrentWritesToDistinctKeysAllCommit(t *testing.T) {
	s := NewStore(nil, nil)
	var wg sync.WaitGroup
	errs := make([]error, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := s.StartWriteTransaction()
			key := []byte{byte(i)}
			if err := s.Put(tx, key, key); err != nil {
				errs[i] = err
				return
			}
			errs[i] = s.Commit(tx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("write %d: unexpected error %v", i, err)
		}
	}
}

func mustPut(t *testing.T, s *Store, tx *Transaction, key, value string) {
	t.Helper()
	if err := s.Put(tx, []byte(key), []byte(value)); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func mustCommit(t *testing.T, s *Store, tx *Transaction) {
	t.Helper()
	if err := s.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
