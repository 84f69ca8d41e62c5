// ABOUTME: Error values distinguishing the store's failure classes
// ABOUTME: Read-only violations and sync failures are caller-visible errors

package store

import (
	"errors"
	"fmt"
)

// ErrReadOnly is returned by write operations after MakeReadOnly. The
// in-memory state is untouched when this is returned.
var ErrReadOnly = errors.New("store is read-only")

// SyncError reports that a committed transaction could not be mirrored to
// disk. In immediate mode it is returned from the enclosing operation; the
// in-memory commit stands, durability did not happen.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("disk sync failed: %v", e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
