package fsinteraction

import "sync"

// memLockRegistry simulates a single advisory lock per in-memory store root,
// mirroring flock(2) semantics (exclusive, non-blocking, process-scoped)
// without touching disk — used when FSInteraction is built over an
// in-memory VFS in tests.
type memLockRegistry struct {
	mu      sync.Mutex
	holders map[string]bool
}

var globalMemLocks = &memLockRegistry{holders: make(map[string]bool)}

type memLocker struct {
	key string
}

// NewMemLocker returns a Locker for tests against an in-memory VFS. key
// should uniquely identify the simulated store root (e.g. its lock path).
func NewMemLocker(key string) Locker {
	return &memLocker{key: key}
}

func (l *memLocker) TryLock(_ string) error {
	globalMemLocks.mu.Lock()
	defer globalMemLocks.mu.Unlock()

	if globalMemLocks.holders[l.key] {
		return ErrAlreadyLocked
	}

	globalMemLocks.holders[l.key] = true

	return nil
}

func (l *memLocker) Unlock() error {
	globalMemLocks.mu.Lock()
	defer globalMemLocks.mu.Unlock()

	delete(globalMemLocks.holders, l.key)

	return nil
}
