// ABOUTME: Startup recovery rebuilding the in-memory map from value files
// ABOUTME: Every file must decode to an entry; corrupt state aborts Open

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nainya/mirrorkv/pkg/txmap"
)

// loadFromDisk lists the store directory and inserts one entry per value
// file into the fresh map. A filename or body that fails to decode is a
// fatal startup error: a corrupt entry is surfaced, never dropped.
func (s *Store[K, V]) loadFromDisk(ctx context.Context) error {
	start := time.Now()

	entries, err := s.sync.io.ReadDir(ctx, s.dir)
	if err != nil {
		return fmt.Errorf("store: list %s: %w", s.dir, err)
	}

	loaded := 0
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()

		// Leftover temp files from an interrupted atomic write carry no
		// committed state; clean them up instead of decoding them.
		if strings.Contains(name, ".tmp") {
			if err := s.sync.io.Remove(ctx, filepath.Join(s.dir, name)); err != nil {
				return fmt.Errorf("store: remove stale temp %s: %w", name, err)
			}
			continue
		}

		k, err := s.sync.keys.DecodeKey(name)
		if err != nil {
			return fmt.Errorf("store: recover %s: %w", name, err)
		}
		data, err := s.sync.io.ReadFile(ctx, filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("store: recover %s: %w", name, err)
		}
		v, err := s.sync.vals.Decode(data)
		if err != nil {
			return fmt.Errorf("store: recover %s: %w", name, err)
		}

		if _, err := s.data.Atomically(func(tx *txmap.Tx[K, V]) error {
			tx.Set(k, v)
			return nil
		}); err != nil {
			return fmt.Errorf("store: seed %s: %w", name, err)
		}
		loaded++
	}

	s.log.LogRecovery(s.dir, loaded, time.Since(start))
	s.metrics.RecordRecovery(loaded, time.Since(start))
	return nil
}
