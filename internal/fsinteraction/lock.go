package fsinteraction

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Locker guards exclusive access to a data store root. NewFileLocker backs
// it with a real flock(2) for native stores; tests against an in-memory VFS
// use NewMemLocker, which enforces the same single-holder-per-process
// contract without touching the filesystem.
type Locker interface {
	// TryLock acquires the lock, failing immediately (never blocking) if it
	// is already held. owner is written into the lock file for diagnostics.
	TryLock(owner string) error
	Unlock() error
}

// fileLocker is grounded on the daemon PID-file pattern: open-or-create the
// lock file, then take a non-blocking exclusive flock on its descriptor.
// Unlike a PID file, the lock's presence on disk (not its content) is what
// signals "store is open" (§6); content is an optional owner string used
// only for diagnostics.
type fileLocker struct {
	path string
	file *os.File
}

// NewFileLocker returns a Locker backed by path, a file inside the data
// store's metadata directory.
func NewFileLocker(path string) Locker {
	return &fileLocker{path: path}
}

func (l *fileLocker) TryLock(owner string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("fsinteraction: opening lock file %s: %w", l.path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()

		return fmt.Errorf("%w: %s is already locked by another process", ErrAlreadyLocked, l.path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return fmt.Errorf("fsinteraction: truncating lock file: %w", err)
	}

	if owner != "" {
		if _, err := f.WriteString(strings.TrimSpace(owner) + "\n"); err != nil {
			f.Close()

			return fmt.Errorf("fsinteraction: writing lock owner: %w", err)
		}
	}

	l.file = f

	return nil
}

func (l *fileLocker) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("fsinteraction: releasing lock: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("fsinteraction: closing lock file: %w", closeErr)
	}

	os.Remove(l.path)

	return nil
}
