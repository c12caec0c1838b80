package task

import (
	"errors"
	"time"
)

// State is the task's position in its lifecycle, per spec.md §2/§3.
type State string

const (
	StateQueued           State = "QUEUED"
	StateRunning          State = "RUNNING"
	StateReview           State = "REVIEW"
	StateApproved         State = "APPROVED"
	StateCompleted        State = "COMPLETED"
	StateRejected         State = "REJECTED"
	StateRejectedTerminal State = "REJECTED_TERMINAL"
	StateFailed           State = "FAILED"
)

// IsTerminal reports whether the state is immutable, per spec.md §3.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateRejectedTerminal
}

var (
	ErrInvalidTransition = errors.New("task: invalid state transition")
	ErrTaskNotFound      = errors.New("task: not found")
	ErrTaskAlreadyExists = errors.New("task: already exists")
)

// ValidTransitions enumerates the allowed edges of the task state
// machine, per spec.md §2 (happy path) and §4.13 (Supervisor verdicts).
var ValidTransitions = map[State][]State{
	StateQueued:           {StateRunning},
	StateRunning:          {StateReview, StateQueued, StateFailed},
	StateReview:           {StateApproved, StateRejected},
	StateApproved:         {StateCompleted},
	StateRejected:         {StateQueued, StateRejectedTerminal},
	StateCompleted:        {},
	StateRejectedTerminal: {},
	StateFailed:           {},
}

// CanTransitionTo reports whether target is reachable from s in one step.
func (s State) CanTransitionTo(target State) bool {
	for _, v := range ValidTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

// StateMachine mutates a Task's state field, validating every edge
// against ValidTransitions and stamping the timestamps spec.md §3
// requires (started_at on RUNNING, completed_at on terminal states).
type StateMachine struct {
	task *Task
}

func NewStateMachine(t *Task) *StateMachine {
	return &StateMachine{task: t}
}

// Transition moves the task to target, or returns ErrInvalidTransition.
func (sm *StateMachine) Transition(target State) error {
	if !sm.task.State.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	sm.task.State = target
	sm.task.UpdatedAt = now

	switch target {
	case StateRunning:
		sm.task.StartedAt = &now
	case StateCompleted, StateFailed, StateRejectedTerminal:
		sm.task.CompletedAt = &now
	}

	return nil
}

// Claim transitions QUEUED → RUNNING, assigning the claiming worker.
func (sm *StateMachine) Claim(workerID string) error {
	if err := sm.Transition(StateRunning); err != nil {
		return err
	}
	sm.task.AssignedWorker = workerID
	return nil
}

// Submit transitions RUNNING → REVIEW after a successful delegate run.
func (sm *StateMachine) Submit() error {
	return sm.Transition(StateReview)
}

// Approve transitions REVIEW → APPROVED → COMPLETED.
func (sm *StateMachine) Approve(result map[string]interface{}) error {
	if err := sm.Transition(StateApproved); err != nil {
		return err
	}
	if err := sm.Transition(StateCompleted); err != nil {
		return err
	}
	sm.task.Result = result
	sm.task.Error = ""
	return nil
}

// Reject transitions REVIEW → REJECTED, recording feedback.
func (sm *StateMachine) Reject(feedback string) error {
	if err := sm.Transition(StateRejected); err != nil {
		return err
	}
	sm.task.Error = feedback
	return nil
}

// Requeue transitions a task back to QUEUED, clearing its execution
// state but preserving trace_id/retry_count per the caller's intent.
func (sm *StateMachine) Requeue() error {
	if err := sm.Transition(StateQueued); err != nil {
		return err
	}
	sm.task.AssignedWorker = ""
	sm.task.StartedAt = nil
	return nil
}

// Escalate transitions REJECTED → REJECTED_TERMINAL, for exhausted
// rejection retries (spec.md §4.13 step 5).
func (sm *StateMachine) Escalate() error {
	return sm.Transition(StateRejectedTerminal)
}

// Fail transitions RUNNING → FAILED for a non-retryable delegate error.
func (sm *StateMachine) Fail(errMsg string) error {
	if err := sm.Transition(StateFailed); err != nil {
		return err
	}
	sm.task.Error = errMsg
	return nil
}
