package queuewatcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

type fakeStore struct {
	mu      sync.Mutex
	created []*task.Task
}

func (f *fakeStore) CreateTask(t *task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, t)
	return nil
}

func (f *fakeStore) snapshot() []*task.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*task.Task, len(f.created))
	copy(out, f.created)
	return out
}

func TestResolvePriority_FromDirectory(t *testing.T) {
	assert.Equal(t, task.PriorityCritical, resolvePriority("/data/queue/CRITICAL/t1.task"))
	assert.Equal(t, task.PriorityHigh, resolvePriority("/data/queue/HIGH/t1.task"))
}

func TestResolvePriority_FromFilenamePrefix(t *testing.T) {
	assert.Equal(t, task.PriorityHigh, resolvePriority("/data/queue/unsorted/HIGH-deploy.task"))
}

func TestResolvePriority_FallsBackToMedium(t *testing.T) {
	assert.Equal(t, task.PriorityMedium, resolvePriority("/data/queue/unsorted/random.task"))
}

func TestWatcher_IngestsExistingArtifactsOnStart(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "HIGH"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HIGH", "t1.task"), []byte("write hello"), 0o644))

	w, err := New(Config{QueueDir: dir, PollInterval: 20 * time.Millisecond, MaxRetries: 3}, store, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	created := store.snapshot()[0]
	assert.Equal(t, task.PriorityHigh, created.Priority)
	assert.Equal(t, "write hello", created.Payload)

	_, statErr := os.Stat(filepath.Join(dir, "HIGH", "t1.task"))
	assert.True(t, os.IsNotExist(statErr), "ingested artifact must be deleted")
}

func TestWatcher_IngestsNewlyWrittenArtifact(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}

	w, err := New(Config{QueueDir: dir, PollInterval: time.Hour, MaxRetries: 3}, store, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "CRITICAL", "t2.task"), []byte("urgent fix"), 0o644))

	require.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, task.PriorityCritical, store.snapshot()[0].Priority)
}

func TestWatcher_CreatesPriorityDirsIfMissing(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}

	_, err := New(Config{QueueDir: dir, PollInterval: time.Hour}, store, nil)
	require.NoError(t, err)

	for _, p := range priorityDirs {
		info, statErr := os.Stat(filepath.Join(dir, p))
		require.NoError(t, statErr)
		assert.True(t, info.IsDir())
	}
}
