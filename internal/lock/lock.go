package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Lock struct {
	file *flock.Flock
	path string
}

// DefaultPath is the lock file used when none is configured: one per backup root.
func DefaultPath(backupRoot string) string {
	return filepath.Join(backupRoot, ".watchdog.lock")
}

// Acquire obtains a filesystem lock so two pulses never write the same
// backup root at once.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "watchdog.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another pulse is already running (lock: %s)", path)
	}
	return &Lock{file: lock, path: path}, nil
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
