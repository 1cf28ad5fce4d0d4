package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/caarmen/image-resizer/pkg/logging"
)

// Locker runs a function while holding an exclusive lock
type Locker interface {
	WithLock(fn func() error) error
}

// FileLock is a system-wide mutex backed by a lock file.
//
// The file lock is held per open file, so goroutines of the same process
// are serialized by an in-process mutex before taking it.
type FileLock struct {
	path string
	mu   sync.Mutex
}

// NewFileLock creates a lock on the file at path. The file is created on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path
func (l *FileLock) Path() string {
	return l.path
}

// WithLock blocks until the lock is acquired, runs fn and releases the lock
// on every exit path, including a panic in fn
func (l *FileLock) WithLock(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("%w: failed to create lock directory: %v", ErrLock, err)
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to open lock file: %v", ErrLock, err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("%w: failed to acquire lock: %v", ErrLock, err)
	}
	defer func() {
		if err := unlockFile(f); err != nil {
			logging.Logger.Warn("Failed to release lock",
				zap.String("path", l.path),
				zap.Error(err))
		}
	}()

	return fn()
}
