package budget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
)

type fakeReader struct{ rate float64 }

func (f *fakeReader) SpendRatePerMinute() float64 { return f.rate }

func TestWatchdog_PausesAboveSoftThreshold(t *testing.T) {
	reader := &fakeReader{rate: 0.75}
	w := NewWatchdog(Config{SoftPausePerMin: 0.5, KillPerMin: 1.0, Tick: 10 * time.Millisecond, DrainTimeout: time.Second}, reader, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	assert.Eventually(t, func() bool { return w.Paused() }, time.Second, 5*time.Millisecond)
}

func TestWatchdog_ResumesWhenRateDrops(t *testing.T) {
	reader := &fakeReader{rate: 0.75}
	w := NewWatchdog(Config{SoftPausePerMin: 0.5, KillPerMin: 1.0, Tick: 10 * time.Millisecond, DrainTimeout: time.Second}, reader, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	assert.Eventually(t, func() bool { return w.Paused() }, time.Second, 5*time.Millisecond)
	reader.rate = 0.1
	assert.Eventually(t, func() bool { return !w.Paused() }, time.Second, 5*time.Millisecond)
}

func TestWatchdog_KillsAndEmitsEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	log, err := eventlog.Open(path)
	require.NoError(t, err)
	defer log.Close()

	reader := &fakeReader{rate: 1.5}
	killed := make(chan struct{})
	onKill := func(ctx context.Context) { close(killed) }

	w := NewWatchdog(Config{SoftPausePerMin: 0.5, KillPerMin: 1.0, Tick: 10 * time.Millisecond, DrainTimeout: time.Second}, reader, log, onKill)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	select {
	case <-killed:
	case <-time.After(time.Second):
		t.Fatal("onKill was not invoked")
	}

	assert.True(t, w.Killed())
	assert.True(t, w.Paused())

	events, err := eventlog.ReadAll(path)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, eventlog.EventBudgetKill, events[len(events)-1].EventType)
}
