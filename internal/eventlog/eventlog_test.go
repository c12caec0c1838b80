package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	l, err := Open(path)
	require.NoError(t, err)

	e1 := New(EventTaskCreated, "queue_watcher", "t1", "trace-1", nil)
	e2 := New(EventTaskClaimed, "worker-1", "t1", "trace-1", map[string]interface{}{"worker_id": "worker-1"})
	require.NoError(t, l.Append(e1))
	require.NoError(t, l.Append(e2))
	require.NoError(t, l.Close())

	events, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTaskCreated, events[0].EventType)
	assert.Equal(t, EventTaskClaimed, events[1].EventType)
}

func TestAppend_RedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	l, err := Open(path)
	require.NoError(t, err)

	e := New(EventDelegateFailure, "delegate_invoker", "t1", "trace-1", map[string]interface{}{
		"stderr": "auth failed with key sk-ant-REDACTED",
	})
	require.NoError(t, l.Append(e))
	require.NoError(t, l.Close())

	events, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].Payload["stderr"], "sk-ant-REDACTED")
}

func TestReadAll_MissingFile(t *testing.T) {
	events, err := ReadAll(filepath.Join(t.TempDir(), "nope.log"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestByTraceID(t *testing.T) {
	events := []*Event{
		New(EventTaskCreated, "a", "t1", "trace-1", nil),
		New(EventTaskCreated, "a", "t2", "trace-2", nil),
		New(EventTaskClaimed, "a", "t1", "trace-1", nil),
	}

	filtered := ByTraceID(events, "trace-1")
	require.Len(t, filtered, 2)
	assert.Equal(t, "t1", filtered[0].TaskID)
}

func TestByTaskID(t *testing.T) {
	events := []*Event{
		New(EventTaskCreated, "a", "t1", "trace-1", nil),
		New(EventTaskCreated, "a", "t2", "trace-2", nil),
	}

	filtered := ByTaskID(events, "t2")
	require.Len(t, filtered, 1)
	assert.Equal(t, "trace-2", filtered[0].TraceID)
}
