package concurrency

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

const lockFile = "nightly.lock"

// StateLock is an exclusive lock on a state directory, held by the daemon
type StateLock struct {
	lock *flock.Flock
}

// LockStateDir takes the lock of dir without waiting. It fails with
// models.ErrStateLocked when another process holds it.
func LockStateDir(dir string) (*StateLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Join(models.ErrStateLocked, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", models.ErrStateLocked, dir)
	}
	return &StateLock{lock: lock}, nil
}

// Path is the lock file
func (s *StateLock) Path() string {
	return s.lock.Path()
}

// Unlock releases the lock
func (s *StateLock) Unlock() {
	if err := s.lock.Unlock(); err != nil {
		logger.Warn("failed to unlock state directory", "path", s.lock.Path(), "error", err)
	}
}
