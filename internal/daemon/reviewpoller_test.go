package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

type fakeLister struct {
	tasks []*task.Task
}

func (f *fakeLister) ListTasks() ([]*task.Task, error) { return f.tasks, nil }

type fakeReviewHandler struct {
	mu      sync.Mutex
	handled []string
}

func (f *fakeReviewHandler) HandleReview(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, taskID)
	return nil
}

func (f *fakeReviewHandler) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.handled...)
}

func TestReviewPoller_HandlesOnlyReviewTasks(t *testing.T) {
	queued := task.New("t1", task.TypeGeneral, task.PriorityHigh, "p", 3)
	review := task.New("t2", task.TypeGeneral, task.PriorityHigh, "p", 3)
	review.State = task.StateReview

	lister := &fakeLister{tasks: []*task.Task{queued, review}}
	handler := &fakeReviewHandler{}

	p := NewReviewPoller(5*time.Millisecond, lister, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	seen := handler.seen()
	assert.Contains(t, seen, review.TaskID)
	assert.NotContains(t, seen, queued.TaskID)
}

func TestReviewPoller_StopsOnContextCancel(t *testing.T) {
	p := NewReviewPoller(time.Millisecond, &fakeLister{}, &fakeReviewHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx)
	assert.NoError(t, err)
}
