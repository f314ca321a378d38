package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gofrs/flock"
)

// ErrSyncInProgress is returned when another sync holds the lease
var ErrSyncInProgress = errors.New("sync already in progress")

// Lease grants exclusive use of a store to one sync at a time
type Lease interface {
	// TryAcquire takes the lease without blocking. It reports false when
	// the lease is already held.
	TryAcquire() (bool, error)
	// Release gives the lease back. Only the holder may call it.
	Release() error
}

// MemoryLease is a non-blocking lease scoped to one process
type MemoryLease struct {
	state atomic.Int32 // 0 = free, 1 = held
}

func (l *MemoryLease) TryAcquire() (bool, error) {
	return l.state.CompareAndSwap(0, 1), nil
}

func (l *MemoryLease) Release() error {
	l.state.Store(0)
	return nil
}

// Held reports whether the lease is currently taken
func (l *MemoryLease) Held() bool {
	return l.state.Load() == 1
}

// FileLease extends MemoryLease with an advisory lock file so that
// separate processes sharing one database are exclusive too
type FileLease struct {
	mem  MemoryLease
	lock *flock.Flock
}

// NewFileLease creates a lease backed by the lock file at path
func NewFileLease(path string) *FileLease {
	return &FileLease{lock: flock.New(path)}
}

// Path returns the lock file path
func (l *FileLease) Path() string {
	return l.lock.Path()
}

func (l *FileLease) TryAcquire() (bool, error) {
	if ok, _ := l.mem.TryAcquire(); !ok {
		return false, nil
	}
	locked, err := l.lock.TryLock()
	if err != nil || !locked {
		_ = l.mem.Release()
		if err != nil {
			return false, fmt.Errorf("failed to lock %s: %w", l.lock.Path(), err)
		}
		return false, nil
	}
	return true, nil
}

func (l *FileLease) Release() error {
	defer func() { _ = l.mem.Release() }()
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.lock.Path(), err)
	}
	return nil
}
