//go:build unix

package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restore.lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	held, pid := Holder(path)
	if !held {
		t.Error("Holder reports not held while lock is live")
	}
	if pid != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", pid, os.Getpid())
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if held, _ := Holder(path); held {
		t.Error("Holder reports held after release")
	}

	// Reacquire after release.
	lock2, err := Acquire(path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	lock2.Close()
}

func TestAcquireConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restore.lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Close()

	if _, err := Acquire(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire = %v, want ErrLocked", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restore.lock")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := lock.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
