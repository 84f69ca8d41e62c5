// ABOUTME: In-memory transactional map with per-key versioned cells
// ABOUTME: Commits validate read versions under one lock and retry on conflict

package txmap

import (
	"sync"
)

// cell holds one key's state. Deleted keys keep their cell as a tombstone so
// that absence is versioned too: a delete/recreate cycle bumps the version and
// is caught by validation like any other change.
type cell[V any] struct {
	ver  uint64
	val  V
	dead bool
}

// Map is a concurrent key-value map supporting atomic multi-key transactions
// with optimistic retry. Reads record the version of every cell they observe;
// Commit validates all recorded versions under the map lock before applying
// buffered writes, and the transaction is re-run when validation fails.
//
// Deleted keys leave a tombstone cell behind so their version history
// survives deletion; the memory for a key is therefore never reclaimed, only
// its value. Workloads that churn through an unbounded set of distinct keys
// grow the map monotonically and should periodically rebuild it from its
// live entries.
type Map[K comparable, V any] struct {
	mu    sync.RWMutex
	cells map[K]*cell[V]
	live  int

	// guard, when set, runs under the commit lock after validation and
	// before any write is applied. A non-nil error aborts the commit.
	guard func(writes int) error
}

// Option configures a Map.
type Option[K comparable, V any] func(*Map[K, V])

// WithCommitGuard installs a commit-time check. The guard is invoked with the
// number of buffered writes while the commit lock is held, making it a single
// linearization point for admission decisions such as a read-only latch.
func WithCommitGuard[K comparable, V any](guard func(writes int) error) Option[K, V] {
	return func(m *Map[K, V]) {
		m.guard = guard
	}
}

// New creates an empty Map.
func New[K comparable, V any](opts ...Option[K, V]) *Map[K, V] {
	m := &Map[K, V]{cells: make(map[K]*cell[V])}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Atomically runs fn inside a transaction and commits its writes if every
// value fn observed is still unchanged. On conflict the transaction is
// discarded and fn runs again from scratch, so fn must be a pure function of
// the values it reads through the transaction. A non-nil error from fn aborts
// with no effect and is returned as-is.
//
// On success Atomically returns the keys whose cells were written, in the
// order fn first wrote them.
func (m *Map[K, V]) Atomically(fn func(tx *Tx[K, V]) error) ([]K, error) {
	for {
		tx := &Tx[K, V]{
			m:      m,
			reads:  make(map[K]uint64),
			writes: make(map[K]write[V]),
		}
		if err := fn(tx); err != nil {
			return nil, err
		}

		committed, err := m.commit(tx)
		if err != nil {
			return nil, err
		}
		if committed {
			return tx.order, nil
		}
		// Conflict: another commit changed a cell fn read. Retry.
	}
}

// commit validates tx's read set and applies its write set. It reports false
// when validation failed (the caller retries) and forwards any guard error.
func (m *Map[K, V]) commit(tx *Tx[K, V]) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, ver := range tx.reads {
		if m.versionLocked(k) != ver {
			return false, nil
		}
	}

	if m.guard != nil {
		if err := m.guard(len(tx.writes)); err != nil {
			return false, err
		}
	}

	for _, k := range tx.order {
		w := tx.writes[k]
		c := m.cells[k]
		if c == nil {
			c = &cell[V]{dead: true}
			m.cells[k] = c
		}
		wasLive := !c.dead
		c.ver++
		if w.del {
			var zero V
			c.val = zero
			c.dead = true
			if wasLive {
				m.live--
			}
		} else {
			c.val = w.val
			c.dead = false
			if !wasLive {
				m.live++
			}
		}
	}
	return true, nil
}

// versionLocked returns the current version of k's cell; 0 means the key has
// never existed. Caller holds mu.
func (m *Map[K, V]) versionLocked(k K) uint64 {
	if c := m.cells[k]; c != nil {
		return c.ver
	}
	return 0
}

// Get returns the current value of k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c := m.cells[k]; c != nil && !c.dead {
		return c.val, true
	}
	var zero V
	return zero, false
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}

// Range calls fn for every live entry until fn returns false. The iteration
// observes a single consistent snapshot: commits are excluded for its whole
// duration. Iteration order is unspecified.
func (m *Map[K, V]) Range(fn func(k K, v V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, c := range m.cells {
		if c.dead {
			continue
		}
		if !fn(k, c.val) {
			return
		}
	}
}

// Values returns all live values from one consistent snapshot.
func (m *Map[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]V, 0, m.live)
	for _, c := range m.cells {
		if !c.dead {
			out = append(out, c.val)
		}
	}
	return out
}

// Keys returns all live keys from one consistent snapshot.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]K, 0, m.live)
	for k, c := range m.cells {
		if !c.dead {
			out = append(out, k)
		}
	}
	return out
}
