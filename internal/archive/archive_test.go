package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

type fakeStore struct {
	tasks   map[string]*task.Task
	created []*task.Task
}

func newFakeStore(tasks ...*task.Task) *fakeStore {
	f := &fakeStore{tasks: make(map[string]*task.Task)}
	for _, t := range tasks {
		f.tasks[t.TaskID] = t
	}
	return f
}

func (f *fakeStore) GetTask(taskID string) (*task.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, task.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeStore) CreateTask(t *task.Task) error {
	f.created = append(f.created, t)
	f.tasks[t.TaskID] = t
	return nil
}

func TestMove_RenamesWorkspaceDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "review", "t1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "review", "t1", "output.txt"), []byte("hi"), 0o644))

	a := New(root, newFakeStore())
	require.NoError(t, a.Move("t1", "review", "completed"))

	_, err := os.Stat(filepath.Join(root, "review", "t1"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(root, "completed", "t1", "output.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestMove_MissingSourceIsNoop(t *testing.T) {
	root := t.TempDir()
	a := New(root, newFakeStore())
	assert.NoError(t, a.Move("ghost", "review", "completed"))
}

func TestList_ReturnsArchivedWorkspaces(t *testing.T) {
	root := t.TempDir()
	a := New(root, newFakeStore())

	require.NoError(t, os.MkdirAll(filepath.Join(root, "review", "t1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "review", "t2"), 0o755))
	require.NoError(t, a.Move("t1", "review", "completed"))
	require.NoError(t, a.Move("t2", "review", "completed"))

	list, err := a.List("completed")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestList_MissingDirReturnsEmpty(t *testing.T) {
	a := New(t.TempDir(), newFakeStore())
	list, err := a.List("completed")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReopen_DerivesFreshTaskPreservingTraceID(t *testing.T) {
	original := task.New("t1", task.TypeGeneral, task.PriorityHigh, "payload", 3)
	original.State = task.StateRejectedTerminal
	st := newFakeStore(original)

	a := New(t.TempDir(), st)
	derived, err := a.Reopen(original.TaskID)
	require.NoError(t, err)

	assert.NotEqual(t, original.TaskID, derived.TaskID)
	assert.Equal(t, original.TraceID, derived.TraceID)
	assert.Equal(t, original.TaskID, derived.ParentTaskID)
	assert.Equal(t, task.StateQueued, derived.State)
	require.Len(t, st.created, 1)
}

func TestReopen_RejectsNonTerminalTask(t *testing.T) {
	original := task.New("t1", task.TypeGeneral, task.PriorityHigh, "payload", 3)
	original.State = task.StateRunning
	st := newFakeStore(original)

	a := New(t.TempDir(), st)
	_, err := a.Reopen(original.TaskID)
	assert.ErrorIs(t, err, ErrNotRejectedTerminal)
}

func TestReopen_UnknownTaskErrors(t *testing.T) {
	a := New(t.TempDir(), newFakeStore())
	_, err := a.Reopen("ghost")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}
