// ABOUTME: Tests for the retrying filesystem layer
// ABOUTME: Durable write round-trip, remove tolerance, retry classification

package fileio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "entry")
	ctx := context.Background()
	io := New()

	if err := io.WriteFile(ctx, name, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := io.ReadFile(ctx, name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Expected hello, got %q", data)
	}
}

func TestWriteOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "entry")
	ctx := context.Background()
	io := New()

	if err := io.WriteFile(ctx, name, []byte("first"), 0o644); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := io.WriteFile(ctx, name, []byte("second"), 0o644); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	data, err := io.ReadFile(ctx, name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected second, got %q", data)
	}

	// The rename must not leave temp files behind.
	entries, err := io.ReadDir(ctx, dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected exactly 1 file, got %d", len(entries))
	}
}

func TestRemoveMissingFileIsNoError(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	io := New()

	if err := io.Remove(ctx, filepath.Join(dir, "never-written")); err != nil {
		t.Errorf("Remove of missing file returned %v", err)
	}
}

func TestShouldRetryClassification(t *testing.T) {
	permanent := []error{
		nil,
		os.ErrNotExist,
		os.ErrPermission,
		syscall.ENOSPC,
		syscall.EROFS,
		context.Canceled,
	}
	for _, err := range permanent {
		if shouldRetry(err) {
			t.Errorf("Expected %v to be permanent", err)
		}
	}

	if !shouldRetry(errors.New("transient device hiccup")) {
		t.Error("Expected unknown error to be retryable")
	}
	if !shouldRetry(syscall.EINTR) {
		t.Error("Expected EINTR to be retryable")
	}
}
