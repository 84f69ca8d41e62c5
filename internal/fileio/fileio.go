// ABOUTME: Filesystem operations used to mirror store entries to disk
// ABOUTME: Writes are tempfile+rename with fsync; transient errors are retried

package fileio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	retry "github.com/sethvargo/go-retry"
)

// FileIO performs the raw disk operations behind the store's file mirror.
// The default implementation delegates to the os package with retry semantics
// for transient errors and fsync on every durable write.
type FileIO interface {
	WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// Remove deletes name; a missing file is not an error.
	Remove(ctx context.Context, name string) error
	ReadDir(ctx context.Context, dir string) ([]os.DirEntry, error)
	MkdirAll(ctx context.Context, dir string, perm os.FileMode) error
}

type defaultFileIO struct{}

// New returns the default FileIO.
func New() FileIO {
	return defaultFileIO{}
}

// WriteFile writes data durably: a temp file in the same directory is
// written, fsynced and renamed over name, then the directory is fsynced so
// the rename itself survives a crash.
func (defaultFileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	return do(ctx, func() error {
		return writeFileSync(name, data, perm)
	})
}

func (defaultFileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := do(ctx, func() error {
		var err error
		data, err = os.ReadFile(name)
		return err
	})
	return data, err
}

func (defaultFileIO) Remove(ctx context.Context, name string) error {
	return do(ctx, func() error {
		err := os.Remove(name)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	})
}

func (defaultFileIO) ReadDir(ctx context.Context, dir string) ([]os.DirEntry, error) {
	var entries []os.DirEntry
	err := do(ctx, func() error {
		var err error
		entries, err = os.ReadDir(dir)
		return err
	})
	return entries, err
}

func (defaultFileIO) MkdirAll(ctx context.Context, dir string, perm os.FileMode) error {
	return do(ctx, func() error {
		return os.MkdirAll(dir, perm)
	})
}

// do runs op with Fibonacci backoff for transient errors. Permanent failures
// are returned immediately.
func do(ctx context.Context, op func() error) error {
	b := retry.NewFibonacci(50 * time.Millisecond)
	return retry.Do(ctx, retry.WithMaxRetries(4, b), func(context.Context) error {
		err := op()
		if shouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// shouldRetry reports whether err is worth another attempt. Missing files,
// permission problems and exhausted-resource conditions are permanent;
// retrying them is a tight loop to nowhere.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrExist) {
		return false
	}
	switch {
	case errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.EISDIR),
		errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.ENAMETOOLONG),
		errors.Is(err, syscall.EINVAL):
		return false
	}
	return true
}

// writeFileSync performs one tempfile+rename durable write attempt.
func writeFileSync(name string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(name)

	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, name); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}

	return syncDir(dir)
}

// syncDir fsyncs a directory so a completed rename is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync directory: %w", err)
	}
	return nil
}
