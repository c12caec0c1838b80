package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	h, err := m.Acquire("state_writer", time.Second)
	require.NoError(t, err)
	require.NoError(t, h.Release())
}

func TestAcquire_MutualExclusion(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	h1, err := m.Acquire("cost_window", time.Second)
	require.NoError(t, err)

	_, err = m.Acquire("cost_window", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, h1.Release())

	h2, err := m.Acquire("cost_window", time.Second)
	require.NoError(t, err)
	require.NoError(t, h2.Release())
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	boom := assert.AnError
	err = m.WithLock("event_log", time.Second, func() error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// lock must be free again
	h, err := m.Acquire("event_log", 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, h.Release())
}

func TestWithLock_Serializes(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	var counter int64
	var wg sync.WaitGroup
	const n = 20

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock("circuit_breaker:claude", 2*time.Second, func() error {
				cur := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, cur+1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), counter)
}

func TestPathFor_SanitizesReservedChars(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	h, err := m.Acquire("task_artifact:abc-123", time.Second)
	require.NoError(t, err)
	require.NoError(t, h.Release())
}
