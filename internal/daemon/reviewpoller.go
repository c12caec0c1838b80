package daemon

import (
	"context"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

// ReviewLister is the subset of internal/store.Store the review
// poller needs to find work.
type ReviewLister interface {
	ListTasks() ([]*task.Task, error)
}

// ReviewHandler is internal/supervisor.Supervisor's entry point.
type ReviewHandler interface {
	HandleReview(taskID string) error
}

// ReviewPoller is the mechanism that drives spec.md §4.13's "Supervisor
// reacts to state=REVIEW": nothing pushes REVIEW tasks at the
// Supervisor, so this scans the State Store on a fixed tick and calls
// HandleReview for each one found, the same ticker-loop shape
// internal/recovery.Sweeper uses for its own periodic scans.
// HandleReview is re-entrant and a no-op on a task no longer in
// REVIEW, so a slow tick or an overlapping restart cannot double-
// process a task.
type ReviewPoller struct {
	interval time.Duration
	store    ReviewLister
	sup      ReviewHandler
}

// NewReviewPoller builds a ReviewPoller. interval defaults to 5s if
// non-positive.
func NewReviewPoller(interval time.Duration, store ReviewLister, sup ReviewHandler) *ReviewPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ReviewPoller{interval: interval, store: store, sup: sup}
}

// Run implements Runnable: it blocks, scanning on every tick, until
// ctx is canceled.
func (p *ReviewPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *ReviewPoller) sweep() {
	tasks, err := p.store.ListTasks()
	if err != nil {
		logger.WithComponent("reviewpoller").Error().Err(err).Msg("failed to list tasks")
		return
	}

	for _, t := range tasks {
		if t.State != task.StateReview {
			continue
		}
		if err := p.sup.HandleReview(t.TaskID); err != nil {
			logger.WithComponent("reviewpoller").Error().Err(err).
				Str("task_id", t.TaskID).Msg("HandleReview failed")
		}
	}
}
