// ABOUTME: Sync controller mirroring committed keys to their value files
// ABOUTME: Immediate mode writes inline; deferred mode drains a pending set

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/mirrorkv/internal/fileio"
	"github.com/nainya/mirrorkv/internal/logger"
	"github.com/nainya/mirrorkv/internal/metrics"
	"github.com/nainya/mirrorkv/pkg/codec"
)

// syncer tracks, for each key touched by a committed write, whether that
// write has reached its file yet.
type syncer[K comparable, V any] struct {
	dir      string
	storeID  string
	mode     Mode
	keys     codec.KeyCodec[K]
	vals     codec.ValueCodec[V]
	io       fileio.FileIO
	fileMode os.FileMode
	parallel int

	// source reads the current committed value of a key. A flush mirrors
	// whatever is committed at drain time, which may be newer than the write
	// that queued the key; the newer write's own sync then finds nothing
	// stale to do.
	source func(K) (V, bool)

	log     *logger.Logger
	metrics *metrics.Metrics

	// mu guards pending and seq. pending maps each dirty key to the dirty
	// sequence of its latest committed write; a flush clears a key only if
	// the sequence it drained is still current, so a key re-dirtied during
	// the drain stays pending for the next flush.
	mu      sync.Mutex
	pending map[K]uint64
	seq     uint64

	// flushMu makes flushes single-flight.
	flushMu sync.Mutex

	// locks serializes the read-value-then-write-file pair per key. Without
	// it two immediate-mode writers racing on the same key could rename an
	// older encoding over a newer one.
	locks keyLocks[K]
}

// keyLocks is a set of per-key mutexes. Lock entries are created on demand
// and dropped once no goroutine holds or waits on them.
type keyLocks[K comparable] struct {
	mu   sync.Mutex
	held map[K]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (s *keyLocks[K]) acquire(k K) *keyLock {
	s.mu.Lock()
	if s.held == nil {
		s.held = make(map[K]*keyLock)
	}
	l := s.held[k]
	if l == nil {
		l = &keyLock{}
		s.held[k] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return l
}

func (s *keyLocks[K]) release(k K, l *keyLock) {
	l.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.held, k)
	}
	s.mu.Unlock()
}

func newSyncer[K comparable, V any](s *Store[K, V], opts Options[K, V]) *syncer[K, V] {
	return &syncer[K, V]{
		dir:      s.dir,
		storeID:  s.id,
		mode:     s.mode,
		keys:     opts.Keys,
		vals:     opts.Values,
		io:       opts.FileIO,
		fileMode: opts.FileMode,
		parallel: opts.FlushParallelism,
		source:   s.data.Get,
		log:      opts.Logger.FlushLogger(s.id),
		metrics:  metrics.Default(),
	}
}

// committed is called by the store core after every successful transaction
// with the keys the transaction wrote.
func (sc *syncer[K, V]) committed(keys []K) error {
	if len(keys) == 0 {
		return nil
	}
	switch sc.mode {
	case SyncImmediate:
		ctx := context.Background()
		var errs []error
		for _, k := range keys {
			if err := sc.syncKey(ctx, k); err != nil {
				sc.metrics.SyncErrors.Inc()
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return &SyncError{Err: err}
		}
		return nil
	case SyncDeferred:
		sc.mu.Lock()
		if sc.pending == nil {
			sc.pending = make(map[K]uint64)
		}
		for _, k := range keys {
			sc.seq++
			sc.pending[k] = sc.seq
		}
		n := len(sc.pending)
		sc.mu.Unlock()
		sc.metrics.SetPending(sc.storeID, n)
		return nil
	}
	panic(fmt.Sprintf("unknown sync mode %d", sc.mode))
}

// syncKey mirrors one key's current committed state: present keys get their
// encoded value written, absent keys get their file removed. The per-key lock
// covers both the value read and the file operation, so the last writer to
// the file always carries the newest committed value.
func (sc *syncer[K, V]) syncKey(ctx context.Context, k K) error {
	l := sc.locks.acquire(k)
	defer sc.locks.release(k, l)

	name := filepath.Join(sc.dir, sc.keys.EncodeKey(k))

	v, ok := sc.source(k)
	if !ok {
		if err := sc.io.Remove(ctx, name); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
		return nil
	}

	data, err := sc.vals.Encode(v)
	if err != nil {
		return fmt.Errorf("encode value for %s: %w", name, err)
	}
	if err := sc.io.WriteFile(ctx, name, data, sc.fileMode); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Flush drains a snapshot of the pending set. Only one flush runs at a time;
// a concurrent call is a no-op. Keys dirtied while the drain runs are picked
// up by the next flush. A key whose write fails stays pending and the error
// is surfaced to the caller.
func (sc *syncer[K, V]) Flush(ctx context.Context) error {
	if !sc.flushMu.TryLock() {
		sc.log.Debug("flush already in progress, skipping").Send()
		return nil
	}
	defer sc.flushMu.Unlock()

	start := time.Now()

	sc.mu.Lock()
	snap := make(map[K]uint64, len(sc.pending))
	for k, seq := range sc.pending {
		snap[k] = seq
	}
	sc.mu.Unlock()

	if len(snap) == 0 {
		sc.metrics.RecordFlush("noop", time.Since(start))
		return nil
	}

	var drained atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sc.parallel)
	for k, seq := range snap {
		k, seq := k, seq
		g.Go(func() error {
			if err := sc.syncKey(gctx, k); err != nil {
				sc.metrics.SyncErrors.Inc()
				return err
			}
			sc.mu.Lock()
			if sc.pending[k] == seq {
				delete(sc.pending, k)
			}
			sc.mu.Unlock()
			drained.Add(1)
			return nil
		})
	}
	err := g.Wait()

	remaining := sc.pendingCount()
	sc.metrics.SetPending(sc.storeID, remaining)
	status := "ok"
	if err != nil {
		status = "error"
	}
	sc.metrics.RecordFlush(status, time.Since(start))
	sc.log.LogFlush(int(drained.Load()), remaining, time.Since(start), err)
	return err
}

// isSynced reports whether the on-disk mirror is up to date.
func (sc *syncer[K, V]) isSynced() bool {
	if sc.mode == SyncImmediate {
		return true
	}
	return sc.pendingCount() == 0
}

func (sc *syncer[K, V]) pendingCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.pending)
}
