// ABOUTME: Transaction handle recording a read set and buffering a write set
// ABOUTME: Writes stay local to the transaction until Atomically commits them

package txmap

type write[V any] struct {
	val V
	del bool
}

// Tx is one attempt of a transaction started by Map.Atomically. It buffers
// writes locally and records the version of every cell it reads; neither is
// visible to other transactions before commit.
type Tx[K comparable, V any] struct {
	m      *Map[K, V]
	reads  map[K]uint64
	writes map[K]write[V]
	order  []K
}

// Get returns the value of k as seen by this transaction: a buffered write if
// one exists, otherwise the committed value, whose version is recorded for
// commit-time validation.
func (tx *Tx[K, V]) Get(k K) (V, bool) {
	if w, ok := tx.writes[k]; ok {
		if w.del {
			var zero V
			return zero, false
		}
		return w.val, true
	}

	tx.m.mu.RLock()
	var snap cell[V]
	if c := tx.m.cells[k]; c != nil {
		snap = *c
	} else {
		snap = cell[V]{dead: true}
	}
	tx.m.mu.RUnlock()

	tx.record(k, snap.ver)
	if snap.dead {
		var zero V
		return zero, false
	}
	return snap.val, true
}

// Set buffers an insert or overwrite of k.
func (tx *Tx[K, V]) Set(k K, v V) {
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = write[V]{val: v}
}

// Delete buffers a removal of k and reports whether the transaction saw the
// key as present.
func (tx *Tx[K, V]) Delete(k K) bool {
	_, ok := tx.Get(k)
	if !ok {
		return false
	}
	if _, buffered := tx.writes[k]; !buffered {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = write[V]{del: true}
	return true
}

// record remembers the first observed version of k. Later observations within
// the same attempt are ignored: if the cell changed in between, validation
// against the first version catches it.
func (tx *Tx[K, V]) record(k K, ver uint64) {
	if _, ok := tx.reads[k]; !ok {
		tx.reads[k] = ver
	}
}
