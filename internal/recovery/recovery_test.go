package recovery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/sdlc-orchestrator/internal/lock"
)

type fakeStore struct {
	mu          sync.Mutex
	staleCalls  int
	zombieCalls int
	staleTimeouts  []time.Duration
	zombieTimeouts []time.Duration
}

func (f *fakeStore) RecoverStale(timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleCalls++
	f.staleTimeouts = append(f.staleTimeouts, timeout)
	return 0, nil
}

func (f *fakeStore) RecoverZombie(timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zombieCalls++
	f.zombieTimeouts = append(f.zombieTimeouts, timeout)
	return 0, nil
}

func (f *fakeStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staleCalls, f.zombieCalls
}

func newLocks(t *testing.T) *lock.Manager {
	m, err := lock.NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestSweeper_CallsBothRecoversOnEveryTick(t *testing.T) {
	st := &fakeStore{}
	sw := New(Config{PollInterval: 5 * time.Millisecond, StaleTimeout: time.Minute, ZombieTimeout: time.Hour}, st, newLocks(t))

	sw.Start()
	defer sw.Stop()

	require.Eventually(t, func() bool {
		stale, zombie := st.counts()
		return stale >= 2 && zombie >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestSweeper_PassesConfiguredTimeouts(t *testing.T) {
	st := &fakeStore{}
	sw := New(Config{PollInterval: 5 * time.Millisecond, StaleTimeout: 42 * time.Second, ZombieTimeout: 99 * time.Second}, st, newLocks(t))

	sw.Start()
	defer sw.Stop()

	require.Eventually(t, func() bool {
		stale, _ := st.counts()
		return stale >= 1
	}, time.Second, 5*time.Millisecond)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, 42*time.Second, st.staleTimeouts[0])
	assert.Equal(t, 99*time.Second, st.zombieTimeouts[0])
}

func TestSweeper_StopHaltsFurtherSweeps(t *testing.T) {
	st := &fakeStore{}
	sw := New(Config{PollInterval: 5 * time.Millisecond}, st, newLocks(t))

	sw.Start()
	require.Eventually(t, func() bool {
		stale, _ := st.counts()
		return stale >= 1
	}, time.Second, 5*time.Millisecond)

	sw.Stop()
	stale, _ := st.counts()
	time.Sleep(30 * time.Millisecond)
	staleAfter, _ := st.counts()
	assert.Equal(t, stale, staleAfter, "no sweeps should run after Stop")
}

func TestNew_AppliesDefaults(t *testing.T) {
	sw := New(Config{}, &fakeStore{}, nil)
	assert.Equal(t, 30*time.Second, sw.cfg.PollInterval)
	assert.Equal(t, 15*time.Minute, sw.cfg.StaleTimeout)
	assert.Equal(t, time.Hour, sw.cfg.ZombieTimeout)
}
