// Package worker implements the Worker Pool (C10): up to pool.size
// concurrent workers, each a cooperative single-threaded routine
// running the per-worker main loop from spec.md §4.10 — recover stale
// locks, claim atomically with adaptive poll backoff, heartbeat while a
// delegate call is in flight, and land on REVIEW/QUEUED/FAILED.
//
// Grounded on the teacher's internal/worker/executor.go: the
// panic-recovery-around-one-unit-of-work shape and the
// success/timeout/canceled/generic-error branching in Worker.runTask
// below are adapted from Executor.Execute; the teacher's single-shot
// handler-map executor is replaced because this spec's "handler" is
// always the Delegate Invoker, not a pluggable in-process function.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/delegate"
	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/store"
	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

// Store is the subset of internal/store.Store the pool needs.
type Store interface {
	ClaimTaskAtomic(workerID, shard, model string) (*task.Task, error)
	RecoverStale(timeout time.Duration) (int, error)
	TransitionTask(taskID string, from, to task.State, mutate func(*task.Task) error) error
	PutHeartbeat(hb *store.Heartbeat) error
	UpsertWorker(w *store.Worker) error
}

// PauseChecker reports the Budget Watchdog's process-wide pause flag
// (spec.md §4.6): the pool must consult it before every claim attempt.
type PauseChecker interface {
	Paused() bool
}

// Delegate is the subset of internal/delegate.Invoker the pool needs.
type Delegate interface {
	CallWithFallback(ctx context.Context, chain []string, startModel, prompt string, timeoutSeconds int, taskType, traceID string) (*delegate.Envelope, error)
}

// PromptBuilder renders a task into the prompt text sent to a delegate;
// the prompt body itself is out of scope for this spec (spec.md, line
// on explicit non-goals) so this is an injected seam.
type PromptBuilder func(t *task.Task) string

// DefaultPromptBuilder is a minimal prompt that surfaces the task's
// name, type and payload; callers are expected to supply a richer
// PromptBuilder in production wiring.
func DefaultPromptBuilder(t *task.Task) string {
	return fmt.Sprintf("task: %s\ntype: %s\n\n%s", t.Name, t.Type, t.Payload)
}

// Config configures a single Worker, per spec.md §4.10/§6.4.
type Config struct {
	WorkerID         string
	Shard            string
	Model            string
	MinPoll          time.Duration
	MaxPoll          time.Duration
	StaleTimeout     time.Duration
	HeartbeatEvery   time.Duration
	ShutdownGrace    time.Duration
	FallbackChain    []string
}

// Worker runs the spec.md §4.10 per-worker main loop.
type Worker struct {
	cfg         Config
	store       Store
	budget      PauseChecker
	deleg       Delegate
	events      *eventlog.Log
	buildPrompt PromptBuilder

	stopCh chan struct{}
	doneCh chan struct{}

	mu         sync.Mutex
	cancelTask context.CancelFunc
}

// NewWorker wires one worker to its dependencies. budget/events may be
// nil (no process-wide pause source, or no audit trail) in tests.
func NewWorker(cfg Config, st Store, budget PauseChecker, deleg Delegate, events *eventlog.Log, buildPrompt PromptBuilder) *Worker {
	if cfg.MinPoll <= 0 {
		cfg.MinPoll = 500 * time.Millisecond
	}
	if cfg.MaxPoll <= 0 {
		cfg.MaxPoll = 5 * time.Second
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 5 * time.Second
	}
	if buildPrompt == nil {
		buildPrompt = DefaultPromptBuilder
	}
	return &Worker{
		cfg:         cfg,
		store:       st,
		budget:      budget,
		deleg:       deleg,
		events:      events,
		buildPrompt: buildPrompt,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Run executes the main loop until Shutdown is called or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)
	log := logger.WithWorker(w.cfg.WorkerID)
	poll := w.cfg.MinPoll

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.budget != nil && w.budget.Paused() {
			if !sleepOrStop(w.stopCh, ctx, poll) {
				return
			}
			continue
		}

		if _, err := w.store.RecoverStale(w.cfg.StaleTimeout); err != nil {
			log.Warn().Err(err).Msg("recover_stale failed")
		}

		t, err := w.store.ClaimTaskAtomic(w.cfg.WorkerID, w.cfg.Shard, w.cfg.Model)
		if err != nil {
			if !errors.Is(err, store.ErrNone) {
				log.Error().Err(err).Msg("claim_task_atomic failed")
			}
			if !sleepOrStop(w.stopCh, ctx, poll) {
				return
			}
			poll = nextPoll(poll, w.cfg.MaxPoll)
			continue
		}

		poll = w.cfg.MinPoll
		if w.events != nil {
			_ = w.events.Append(eventlog.New(eventlog.EventTaskClaimed, w.cfg.WorkerID, t.TaskID, t.TraceID,
				map[string]interface{}{"worker_id": w.cfg.WorkerID}))
		}
		w.runTask(ctx, t)
	}
}

// Shutdown signals the worker to stop claiming new tasks and waits up
// to grace for the current task to finish; past grace it force-cancels
// the in-flight delegate call, per spec.md §4.10's cancellation rule.
func (w *Worker) Shutdown(grace time.Duration) {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	select {
	case <-w.doneCh:
		return
	case <-time.After(grace):
	}

	w.mu.Lock()
	if w.cancelTask != nil {
		w.cancelTask()
	}
	w.mu.Unlock()

	<-w.doneCh
}

func sleepOrStop(stopCh chan struct{}, ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// nextPoll implements the adaptive backoff from spec.md §4.10:
// poll_interval = min(max_poll, poll_interval * 1.5).
func nextPoll(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > max {
		next = max
	}
	return next
}

func (w *Worker) runTask(ctx context.Context, t *task.Task) {
	log := logger.WithTask(t.TaskID)

	taskCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelTask = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cancelTask = nil
		w.mu.Unlock()
		cancel()
	}()

	timeout := t.Type.HeartbeatTimeout()
	hb := &store.Heartbeat{
		WorkerID:        w.cfg.WorkerID,
		Timestamp:       time.Now().UTC(),
		Status:          "busy",
		TaskID:          t.TaskID,
		TaskType:        string(t.Type),
		ProgressPercent: 0,
		ExpectedTimeout: int(timeout.Seconds()),
		LastActivityAt:  time.Now().UTC(),
	}
	if err := w.store.PutHeartbeat(hb); err != nil {
		log.Warn().Err(err).Msg("write heartbeat failed")
	}

	stopActivity := make(chan struct{})
	activityDone := make(chan struct{})
	go func() {
		defer close(activityDone)
		ticker := time.NewTicker(w.cfg.HeartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stopActivity:
				return
			case <-ticker.C:
				hb.Timestamp = time.Now().UTC()
				hb.LastActivityAt = hb.Timestamp
				_ = w.store.PutHeartbeat(hb)
			}
		}
	}()

	env, err := w.invokeDelegate(taskCtx, t, timeout)

	close(stopActivity)
	<-activityDone

	if err != nil {
		w.handleFailure(t, err)
		return
	}

	result := map[string]interface{}{
		"decision":   env.Decision,
		"reasoning":  env.Reasoning,
		"output":     env.Output,
		"confidence": env.Confidence,
	}

	if txErr := w.store.TransitionTask(t.TaskID, task.StateRunning, task.StateReview, func(tk *task.Task) error {
		tk.Result = result
		return nil
	}); txErr != nil {
		log.Error().Err(txErr).Msg("RUNNING -> REVIEW transition failed")
		return
	}
	if w.events != nil {
		_ = w.events.Append(eventlog.New(eventlog.EventTaskSubmitted, w.cfg.WorkerID, t.TaskID, t.TraceID,
			map[string]interface{}{"decision": env.Decision}))
	}
}

// invokeDelegate calls the Delegate Invoker for one task, recovering
// from a handler panic the way the teacher's Executor.Execute does.
func (w *Worker) invokeDelegate(ctx context.Context, t *task.Task, timeout time.Duration) (env *delegate.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithTask(t.TaskID).Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("delegate invocation panicked")
			err = fmt.Errorf("delegate invocation panicked: %v", r)
		}
	}()

	model := w.cfg.Model
	if t.AssignedModel != "" {
		model = t.AssignedModel
	}
	prompt := w.buildPrompt(t)

	return w.deleg.CallWithFallback(ctx, w.cfg.FallbackChain, model, prompt, int(timeout.Seconds()), string(t.Type), t.TraceID)
}

func (w *Worker) handleFailure(t *task.Task, cause error) {
	log := logger.WithTask(t.TaskID)

	target := task.StateFailed
	if t.RetryCount < t.MaxRetries {
		target = task.StateQueued
	}

	err := w.store.TransitionTask(t.TaskID, task.StateRunning, target, func(tk *task.Task) error {
		tk.Error = cause.Error()
		if target == task.StateQueued {
			tk.RetryCount++
			tk.AssignedWorker = ""
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("failure transition failed")
		return
	}

	if w.events == nil {
		return
	}
	evType := eventlog.EventTaskFailed
	if target == task.StateQueued {
		evType = eventlog.EventTaskRequeued
	}
	_ = w.events.Append(eventlog.New(evType, w.cfg.WorkerID, t.TaskID, t.TraceID,
		map[string]interface{}{"error": cause.Error()}))
}

// Pool manages a fixed set of Workers.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool builds one Worker per Config entry.
func NewPool(cfgs []Config, st Store, budget PauseChecker, deleg Delegate, events *eventlog.Log, buildPrompt PromptBuilder) *Pool {
	p := &Pool{}
	for _, c := range cfgs {
		p.workers = append(p.workers, NewWorker(c, st, budget, deleg, events, buildPrompt))
	}
	return p
}

// Start launches every worker's main loop in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Shutdown drains every worker (bounded by grace each) and waits for
// all main loops to return.
func (p *Pool) Shutdown(grace time.Duration) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Shutdown(grace)
		}(w)
	}
	wg.Wait()
	p.wg.Wait()
}
