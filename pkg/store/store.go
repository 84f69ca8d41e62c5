// ABOUTME: Durable key-value store: transactional in-memory map mirrored to disk
// ABOUTME: One file per key; sync is immediate or deferred until an explicit flush

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/mirrorkv/internal/fileio"
	"github.com/nainya/mirrorkv/internal/logger"
	"github.com/nainya/mirrorkv/internal/metrics"
	"github.com/nainya/mirrorkv/pkg/codec"
	"github.com/nainya/mirrorkv/pkg/txmap"
)

// Mode selects when committed transactions reach disk. It is fixed for the
// lifetime of a store instance.
type Mode int

const (
	// SyncImmediate mirrors every changed key to disk before the operation
	// returns. IsSynced is always true.
	SyncImmediate Mode = iota
	// SyncDeferred accumulates changed keys in a pending set; the FlushFunc
	// returned by Open drains them. Writes committed after the last flush are
	// lost if the process dies first.
	SyncDeferred
)

func (m Mode) String() string {
	if m == SyncDeferred {
		return "deferred"
	}
	return "immediate"
}

// FlushFunc drains the pending set of a deferred-mode store. At most one
// flush runs at a time; a call that finds another flush in progress is a
// no-op. Keys whose write fails stay pending and the error is returned.
type FlushFunc func(ctx context.Context) error

// Options configures a store. Keys and Values are required; everything else
// has defaults.
type Options[K comparable, V any] struct {
	Keys   codec.KeyCodec[K]
	Values codec.ValueCodec[V]

	Logger *logger.Logger
	FileIO fileio.FileIO

	// FileMode and DirMode default to 0644 and 0755.
	FileMode os.FileMode
	DirMode  os.FileMode

	// FlushParallelism bounds the concurrent writers of one flush; default 8.
	FlushParallelism int
}

// Store is a key-value container whose authoritative state lives in an
// in-memory transactional map, with every entry mirrored to one file under
// the store directory. The directory is exclusively owned by one Store
// instance at a time.
type Store[K comparable, V any] struct {
	dir  string
	id   string
	mode Mode

	data     *txmap.Map[K, V]
	sync     *syncer[K, V]
	readOnly atomic.Bool

	log     *logger.Logger
	metrics *metrics.Metrics
}

// Open loads the store directory into a fresh in-memory map and returns the
// populated store. Every file must decode back to an entry; a file that does
// not is a fatal startup error, never silently skipped. The returned
// FlushFunc is non-nil only in deferred mode.
func Open[K comparable, V any](dir string, mode Mode, opts Options[K, V]) (*Store[K, V], FlushFunc, error) {
	if opts.Keys == nil || opts.Values == nil {
		return nil, nil, errors.New("store: Keys and Values codecs are required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	if opts.FileIO == nil {
		opts.FileIO = fileio.New()
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0o644
	}
	if opts.DirMode == 0 {
		opts.DirMode = 0o755
	}
	if opts.FlushParallelism <= 0 {
		opts.FlushParallelism = 8
	}

	id := uuid.NewString()
	s := &Store[K, V]{
		dir:     dir,
		id:      id,
		mode:    mode,
		log:     opts.Logger.StoreLogger(id, dir),
		metrics: metrics.Default(),
	}
	s.data = txmap.New(txmap.WithCommitGuard[K, V](s.commitGuard))
	s.sync = newSyncer(s, opts)

	ctx := context.Background()
	if err := opts.FileIO.MkdirAll(ctx, dir, opts.DirMode); err != nil {
		return nil, nil, fmt.Errorf("store: create directory %s: %w", dir, err)
	}
	if err := s.loadFromDisk(ctx); err != nil {
		return nil, nil, err
	}

	var flush FlushFunc
	if mode == SyncDeferred {
		flush = s.sync.Flush
	}
	return s, flush, nil
}

// commitGuard runs under the map's commit lock, so every writing transaction
// is strictly before or strictly after the read-only transition.
func (s *Store[K, V]) commitGuard(writes int) error {
	if writes > 0 && s.readOnly.Load() {
		return ErrReadOnly
	}
	return nil
}

// Add inserts v under k if k is absent. An existing entry is left unchanged
// and reported as AlreadyExists; that is a normal outcome, not an error.
func (s *Store[K, V]) Add(k K, v V) (AddOutcome, error) {
	start := time.Now()
	out := AlreadyExists
	changed, err := s.data.Atomically(func(tx *txmap.Tx[K, V]) error {
		if _, ok := tx.Get(k); ok {
			out = AlreadyExists
			return nil
		}
		tx.Set(k, v)
		out = Created
		return nil
	})
	if err != nil {
		s.metrics.RecordOp("add", "error", time.Since(start))
		return out, err
	}
	err = s.sync.committed(changed)
	s.metrics.RecordOp("add", out.String(), time.Since(start))
	return out, err
}

// Get returns the current value of k. No side effects.
func (s *Store[K, V]) Get(k K) (V, bool) {
	return s.data.Get(k)
}

// Update unconditionally overwrites the value at k if k exists.
func (s *Store[K, V]) Update(k K, v V) (UpdateResult[V], error) {
	start := time.Now()
	var res UpdateResult[V]
	changed, err := s.data.Atomically(func(tx *txmap.Tx[K, V]) error {
		if _, ok := tx.Get(k); !ok {
			res = UpdateResult[V]{Outcome: NoSuchItem}
			return nil
		}
		tx.Set(k, v)
		res = UpdateResult[V]{Outcome: ItemUpdated, Value: v}
		return nil
	})
	if err != nil {
		s.metrics.RecordOp("update", "error", time.Since(start))
		return res, err
	}
	err = s.sync.committed(changed)
	s.metrics.RecordOp("update", res.Outcome.String(), time.Since(start))
	return res, err
}

// UpdateWith reads the current value of k and applies f to it. When f
// reports true its result is committed and returned as ItemUpdated; when it
// reports false nothing is written and the unchanged value is returned as
// NotUpdated. f must be a pure function of its argument: the transaction
// retries on conflict and f runs again.
func (s *Store[K, V]) UpdateWith(k K, f func(cur V) (V, bool)) (UpdateResult[V], error) {
	start := time.Now()
	var res UpdateResult[V]
	changed, err := s.data.Atomically(func(tx *txmap.Tx[K, V]) error {
		res = applyUpdate(tx, k, f)
		return nil
	})
	if err != nil {
		s.metrics.RecordOp("update_with", "error", time.Since(start))
		return res, err
	}
	err = s.sync.committed(changed)
	s.metrics.RecordOp("update_with", res.Outcome.String(), time.Since(start))
	return res, err
}

// UpdateEach applies UpdateWith's per-key logic to every key in keys inside
// one atomic transaction: all keys are read from the same snapshot and all
// resulting writes commit together, or the whole batch retries. Results are
// in input order.
func (s *Store[K, V]) UpdateEach(keys []K, f func(cur V) (V, bool)) ([]UpdateResult[V], error) {
	start := time.Now()
	var results []UpdateResult[V]
	changed, err := s.data.Atomically(func(tx *txmap.Tx[K, V]) error {
		results = make([]UpdateResult[V], 0, len(keys))
		for _, k := range keys {
			results = append(results, applyUpdate(tx, k, f))
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordOp("update_each", "error", time.Since(start))
		return results, err
	}
	err = s.sync.committed(changed)
	s.metrics.RecordOp("update_each", "ok", time.Since(start))
	return results, err
}

// applyUpdate is the shared conditional-update step for a single key.
func applyUpdate[K comparable, V any](tx *txmap.Tx[K, V], k K, f func(cur V) (V, bool)) UpdateResult[V] {
	cur, ok := tx.Get(k)
	if !ok {
		return UpdateResult[V]{Outcome: NoSuchItem}
	}
	next, update := f(cur)
	if !update {
		return UpdateResult[V]{Outcome: NotUpdated, Value: cur}
	}
	tx.Set(k, next)
	return UpdateResult[V]{Outcome: ItemUpdated, Value: next}
}

// UpdateReturning is UpdateWith with an auxiliary result: f decides whether
// to replace the value and additionally produces an R (a reason code, a
// derived datum) that is carried out of the transaction to the caller. It is
// a free function because Go methods cannot introduce type parameters.
func UpdateReturning[K comparable, V, R any](s *Store[K, V], k K, f func(cur V) (V, R, bool)) (UpdateResult[V], R, error) {
	start := time.Now()
	var res UpdateResult[V]
	var aux R
	changed, err := s.data.Atomically(func(tx *txmap.Tx[K, V]) error {
		cur, ok := tx.Get(k)
		if !ok {
			var zero R
			res, aux = UpdateResult[V]{Outcome: NoSuchItem}, zero
			return nil
		}
		next, r, update := f(cur)
		aux = r
		if !update {
			res = UpdateResult[V]{Outcome: NotUpdated, Value: cur}
			return nil
		}
		tx.Set(k, next)
		res = UpdateResult[V]{Outcome: ItemUpdated, Value: next}
		return nil
	})
	if err != nil {
		s.metrics.RecordOp("update_returning", "error", time.Since(start))
		return res, aux, err
	}
	err = s.sync.committed(changed)
	s.metrics.RecordOp("update_returning", res.Outcome.String(), time.Since(start))
	return res, aux, err
}

// Remove deletes k and reports whether it was present. The on-disk file is
// removed immediately or on the next flush, depending on the mode.
func (s *Store[K, V]) Remove(k K) (bool, error) {
	start := time.Now()
	removed := false
	changed, err := s.data.Atomically(func(tx *txmap.Tx[K, V]) error {
		removed = tx.Delete(k)
		return nil
	})
	if err != nil {
		s.metrics.RecordOp("remove", "error", time.Since(start))
		return false, err
	}
	err = s.sync.committed(changed)
	outcome := "removed"
	if !removed {
		outcome = "no_such_item"
	}
	s.metrics.RecordOp("remove", outcome, time.Since(start))
	return removed, err
}

// Values returns every stored value from one consistent snapshot. Order is
// unspecified.
func (s *Store[K, V]) Values() []V {
	return s.data.Values()
}

// Count returns the number of stored entries.
func (s *Store[K, V]) Count() int {
	return s.data.Len()
}

// FilterValues returns the values of entries matching pred, from one
// consistent snapshot.
func (s *Store[K, V]) FilterValues(pred func(K, V) bool) []V {
	var out []V
	s.data.Range(func(k K, v V) bool {
		if pred(k, v) {
			out = append(out, v)
		}
		return true
	})
	return out
}

// FilterKeys returns the keys of entries matching pred, from one consistent
// snapshot.
func (s *Store[K, V]) FilterKeys(pred func(K, V) bool) []K {
	var out []K
	s.data.Range(func(k K, v V) bool {
		if pred(k, v) {
			out = append(out, k)
		}
		return true
	})
	return out
}

// FilterEntries returns the entries matching pred, from one consistent
// snapshot.
func (s *Store[K, V]) FilterEntries(pred func(K, V) bool) []Entry[K, V] {
	var out []Entry[K, V]
	s.data.Range(func(k K, v V) bool {
		if pred(k, v) {
			out = append(out, Entry[K, V]{Key: k, Value: v})
		}
		return true
	})
	return out
}

// CollectSortedWhile takes a consistent snapshot of all values, sorts it with
// cmp, then scans left to right accumulating each value while accept returns
// true for the accumulated prefix and the next candidate. The scan halts at
// the first rejection regardless of later elements; the rejected value is not
// included.
func (s *Store[K, V]) CollectSortedWhile(cmp func(a, b V) int, accept func(acc []V, next V) bool) []V {
	vals := s.data.Values()
	slices.SortFunc(vals, cmp)

	out := make([]V, 0, len(vals))
	for _, v := range vals {
		if !accept(out, v) {
			break
		}
		out = append(out, v)
	}
	return out
}

// IsSynced reports whether every committed write has reached disk. Always
// true in immediate mode.
func (s *Store[K, V]) IsSynced() bool {
	return s.sync.isSynced()
}

// MakeReadOnly latches the store read-only; the transition is irreversible
// for the lifetime of the instance. Writes that committed before the
// transition may still be draining to disk: a flush keeps working on the
// pending set, which can no longer grow, so queued deletions complete and a
// graceful shutdown does not race new writes.
func (s *Store[K, V]) MakeReadOnly() {
	s.readOnly.Store(true)
	s.log.LogReadOnly(s.sync.pendingCount())
}

// Dir returns the directory owning this store's value files.
func (s *Store[K, V]) Dir() string {
	return s.dir
}

// Mode returns the sync mode fixed at Open.
func (s *Store[K, V]) Mode() Mode {
	return s.mode
}
