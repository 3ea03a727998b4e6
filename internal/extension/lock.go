package extension

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLocked is returned when another host holds the extension directory
var ErrLocked = errors.New("extension directory is locked by another process")

// LockFileName is created inside the extension directory while a host runs
const LockFileName = ".hyprsandbox.lock"

// DirLock keeps two hosts from loading the same extension directory. The
// lock file holds the pid of its owner.
type DirLock struct {
	path string
	file *os.File
}

// NewDirLock creates a lock for dir
func NewDirLock(dir string) *DirLock {
	return &DirLock{path: filepath.Join(dir, LockFileName)}
}

// Path returns the lock file path
func (l *DirLock) Path() string {
	return l.path
}

// Lock acquires the lock by creating the lock file exclusively
func (l *DirLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrLocked, l.path)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if _, err := file.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		_ = file.Close()      //nolint:errcheck // best effort close on error
		_ = os.Remove(l.path) //nolint:errcheck // cleanup on error
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	l.file = file
	return nil
}

// Unlock releases the lock by removing the lock file
func (l *DirLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	_ = l.file.Close() //nolint:errcheck // best effort close
	l.file = nil

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Owner returns the pid recorded in the lock file, or 0 when unlocked
func (l *DirLock) Owner() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0
	}
	return pid
}
