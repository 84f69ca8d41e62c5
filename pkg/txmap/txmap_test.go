// ABOUTME: Tests for the transactional map primitive
// ABOUTME: Covers atomic commit, conflict retry, tombstones, and the guard

package txmap

import (
	"errors"
	"sync"
	"testing"
)

func TestAtomicallyCommitsAllWrites(t *testing.T) {
	m := New[string, int]()

	changed, err := m.Atomically(func(tx *Tx[string, int]) error {
		tx.Set("a", 1)
		tx.Set("b", 2)
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically failed: %v", err)
	}
	if len(changed) != 2 || changed[0] != "a" || changed[1] != "b" {
		t.Errorf("Expected write set [a b], got %v", changed)
	}

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Expected a=1, got %d (present: %v)", v, ok)
	}
	if v, ok := m.Get("b"); !ok || v != 2 {
		t.Errorf("Expected b=2, got %d (present: %v)", v, ok)
	}
}

func TestAtomicallyAbortsOnError(t *testing.T) {
	m := New[string, int]()
	boom := errors.New("boom")

	changed, err := m.Atomically(func(tx *Tx[string, int]) error {
		tx.Set("a", 1)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if changed != nil {
		t.Errorf("Aborted transaction reported writes: %v", changed)
	}
	if _, ok := m.Get("a"); ok {
		t.Error("Aborted write is visible")
	}
}

func TestTransactionReadsItsOwnWrites(t *testing.T) {
	m := New[string, int]()

	_, err := m.Atomically(func(tx *Tx[string, int]) error {
		tx.Set("a", 1)
		v, ok := tx.Get("a")
		if !ok || v != 1 {
			t.Errorf("Expected buffered a=1, got %d (present: %v)", v, ok)
		}
		tx.Delete("a")
		if _, ok := tx.Get("a"); ok {
			t.Error("Buffered delete not visible inside transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically failed: %v", err)
	}
}

func TestDeleteReportsPresence(t *testing.T) {
	m := New[string, int]()
	if _, err := m.Atomically(func(tx *Tx[string, int]) error {
		tx.Set("a", 1)
		return nil
	}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	_, err := m.Atomically(func(tx *Tx[string, int]) error {
		if !tx.Delete("a") {
			t.Error("Delete of present key reported absent")
		}
		if tx.Delete("missing") {
			t.Error("Delete of absent key reported present")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically failed: %v", err)
	}

	if _, ok := m.Get("a"); ok {
		t.Error("Deleted key still present")
	}
	if m.Len() != 0 {
		t.Errorf("Expected empty map, Len=%d", m.Len())
	}
}

func TestDeleteRecreateBumpsVersion(t *testing.T) {
	m := New[string, int]()

	// Recreating a deleted key must not reset its version, otherwise a
	// transaction that read the old value would validate against the new one.
	for i := 1; i <= 3; i++ {
		if _, err := m.Atomically(func(tx *Tx[string, int]) error {
			tx.Set("a", i)
			return nil
		}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if _, err := m.Atomically(func(tx *Tx[string, int]) error {
			tx.Delete("a")
			return nil
		}); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
	}

	m.mu.RLock()
	ver := m.versionLocked("a")
	m.mu.RUnlock()
	if ver != 6 {
		t.Errorf("Expected version 6 after 6 mutations, got %d", ver)
	}
}

func TestConcurrentIncrementsRetryCleanly(t *testing.T) {
	m := New[string, int]()
	if _, err := m.Atomically(func(tx *Tx[string, int]) error {
		tx.Set("counter", 0)
		return nil
	}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := m.Atomically(func(tx *Tx[string, int]) error {
					v, _ := tx.Get("counter")
					tx.Set("counter", v+1)
					return nil
				})
				if err != nil {
					t.Errorf("Increment failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if v, _ := m.Get("counter"); v != workers*perWorker {
		t.Errorf("Expected %d, got %d", workers*perWorker, v)
	}
}

func TestCommitGuardBlocksWrites(t *testing.T) {
	rejected := errors.New("rejected")
	closed := false
	m := New(WithCommitGuard[string, int](func(writes int) error {
		if closed && writes > 0 {
			return rejected
		}
		return nil
	}))

	if _, err := m.Atomically(func(tx *Tx[string, int]) error {
		tx.Set("a", 1)
		return nil
	}); err != nil {
		t.Fatalf("Write before close failed: %v", err)
	}

	closed = true

	_, err := m.Atomically(func(tx *Tx[string, int]) error {
		tx.Set("b", 2)
		return nil
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("Expected guard rejection, got %v", err)
	}
	if _, ok := m.Get("b"); ok {
		t.Error("Rejected write is visible")
	}

	// Read-only transactions pass the guard.
	if _, err := m.Atomically(func(tx *Tx[string, int]) error {
		if v, ok := tx.Get("a"); !ok || v != 1 {
			t.Errorf("Expected a=1, got %d (present: %v)", v, ok)
		}
		return nil
	}); err != nil {
		t.Fatalf("Read-only transaction failed: %v", err)
	}
}

func TestSnapshotReads(t *testing.T) {
	m := New[string, int]()
	want := map[string]int{"a": 1, "b": 2, "c": 3}
	if _, err := m.Atomically(func(tx *Tx[string, int]) error {
		for k, v := range want {
			tx.Set(k, v)
		}
		return nil
	}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if m.Len() != len(want) {
		t.Errorf("Expected Len %d, got %d", len(want), m.Len())
	}

	got := make(map[string]int)
	m.Range(func(k string, v int) bool {
		got[k] = v
		return true
	})
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Range missing %s=%d, got %d", k, v, got[k])
		}
	}

	if vals := m.Values(); len(vals) != len(want) {
		t.Errorf("Expected %d values, got %d", len(want), len(vals))
	}
	if keys := m.Keys(); len(keys) != len(want) {
		t.Errorf("Expected %d keys, got %d", len(want), len(keys))
	}
}
