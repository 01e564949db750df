package main

import (
	"path/filepath"
	"testing"
)

func TestAcquireLockSucceedsOnFirstCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airupd.lock")
	f, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	f.Close()
}

func TestAcquireLockRejectsConcurrentInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airupd.lock")
	first, err := acquireLock(path)
	if err != nil {
		t.Fatalf("first acquireLock: %v", err)
	}
	defer first.Close()

	// The test process isn't PID 1, so this mirrors a normal daemon's
	// O_EXCL path: a second instance must fail to take the same lock.
	if _, err := acquireLock(path); err == nil {
		t.Fatal("got nil error, want failure acquiring an already-held lock")
	}
}
