// Package lock implements the Lock Manager (C2): cross-process
// exclusive, scoped acquisition of named resources with guaranteed
// release on every exit path, per spec.md §4.2. The teacher's
// distributed equivalent is a Redis SetNX "acquire, defer release"
// lock (internal/queue/scheduler.go's schedulerLockKey); here the
// cross-process primitive is a flock(2) advisory lock on a file under
// state/locks/, since the core is single-host per spec.md §1.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when a lock is not acquired within the
// requested window.
var ErrTimeout = errors.New("lock: acquisition timed out")

// Manager hands out named, cross-process exclusive locks backed by
// files under dir (state/locks/ per spec.md §6.1).
type Manager struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File // in-process guard against same-process double-acquire
}

// NewManager creates a Manager rooted at dir, creating it if absent.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create locks dir: %w", err)
	}
	return &Manager{dir: dir, files: make(map[string]*os.File)}, nil
}

// Handle represents a held lock; Release must be called exactly once.
type Handle struct {
	m    *Manager
	name string
	file *os.File
}

// Acquire blocks (polling) until the named lock is obtained or timeout
// elapses, returning ErrTimeout on expiry. Names containing "/" are
// sanitized into a single path segment so callers may use names like
// "circuit_breaker:claude" directly, per spec.md §4.2's example names.
func (m *Manager) Acquire(name string, timeout time.Duration) (*Handle, error) {
	path := m.pathFor(name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	backoff := 5 * time.Millisecond
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			m.mu.Lock()
			m.files[name] = f
			m.mu.Unlock()
			return &Handle{m: m, name: name, file: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("lock: flock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, ErrTimeout
		}
		time.Sleep(backoff)
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// Release unlocks and closes the underlying lock file. Safe to call
// once; calling it more than once is a caller bug but does not panic.
func (h *Handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	closeErr := h.file.Close()
	h.m.mu.Lock()
	delete(h.m.files, h.name)
	h.m.mu.Unlock()
	h.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// WithLock acquires name, runs body, and releases the lock on every
// exit path (success, error, or panic), per spec.md §4.2's contract.
func (m *Manager) WithLock(name string, timeout time.Duration, body func() error) (err error) {
	h, err := m.Acquire(name, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := h.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return body()
}

func (m *Manager) pathFor(name string) string {
	safe := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' || c == ':' {
			safe = append(safe, '_')
			continue
		}
		safe = append(safe, c)
	}
	return filepath.Join(m.dir, string(safe)+".lock")
}
