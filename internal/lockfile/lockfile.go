// Package lockfile guards a target database against concurrent
// restores. One process holds an exclusive flock on a sidecar lock
// file for the duration of the operation.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrLocked means another process holds the restore lock.
var ErrLocked = errors.New("restore lock already held by another process")

// Lock represents a held lock file.
type Lock struct {
	file *os.File
	path string
}

// Path returns the lock file's location.
func (l *Lock) Path() string {
	return l.path
}

// Close releases the lock.
func (l *Lock) Close() error {
	if l.file == nil {
		return nil
	}
	// Closing the file descriptor automatically releases the flock
	err := l.file.Close()
	l.file = nil
	return err
}

// Acquire takes an exclusive non-blocking lock on path, creating the
// file if needed. Returns ErrLocked when another process holds it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("cannot lock file: %w", err)
	}

	// Write our PID to the lock file for debugging
	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Sync()

	return &Lock{file: f, path: path}, nil
}

// Holder reports whether the lock is currently held, and by which PID
// when that can be read. Best effort: a stale PID from a crashed
// process reports as not held because the flock dies with the process.
func Holder(path string) (held bool, pid int) {
	f, err := os.Open(path)
	if err != nil {
		return false, 0
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		if errors.Is(err, ErrLocked) {
			data := make([]byte, 32)
			if n, _ := f.Read(data); n > 0 {
				if v, err := strconv.Atoi(strings.TrimSpace(string(data[:n]))); err == nil {
					pid = v
				}
			}
			if pid != 0 && !isProcessRunning(pid) {
				pid = 0
			}
			return true, pid
		}
		return false, 0
	}
	// We got the lock, so nobody holds it. Closing releases it.
	return false, 0
}
