// Package supervisor implements the Supervisor (C13): the component
// that reacts to state=REVIEW by running the Quality Gate Engine and
// the Consensus Engine and deciding APPROVE/REJECT, per spec.md §4.13.
// Grounded on the teacher's DLQ-requeue flow (internal/queue/dlq.go,
// adapted for internal/archive below) for the retry-vs-terminal
// decision shape, and on internal/lock.Manager.WithLock for the
// per-task artifact lock every step runs under.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/consensus"
	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
	"github.com/flowforge/sdlc-orchestrator/internal/gates"
	"github.com/flowforge/sdlc-orchestrator/internal/lock"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/phase"
	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

// Store is the subset of internal/store.Store the Supervisor needs.
type Store interface {
	GetTask(taskID string) (*task.Task, error)
	TransitionTask(taskID string, from, to task.State, mutate func(*task.Task) error) error
	CreateTask(t *task.Task) error
}

// WorkspaceResolver locates the on-disk workspace for a task, for the
// Quality Gate Engine to run against.
type WorkspaceResolver func(t *task.Task) gates.Workspace

// ConsensusPoller is the subset of consensus.Engine the Supervisor
// needs for its final-approval poll.
type ConsensusPoller interface {
	Poll(ctx context.Context, cfg consensus.Config, prompt, traceID string) consensus.Result
}

// GateRunner is the subset of gates.Engine the Supervisor needs.
type GateRunner interface {
	Run(ws gates.Workspace) map[gates.ID]gates.Result
}

// PhaseAdvancer is the subset of internal/phase.Machine the Supervisor
// needs. Only the Supervisor may call Advance, per spec.md §4.14.
type PhaseAdvancer interface {
	Current(groupID string) (phase.Phase, error)
	Advance(groupID string, target phase.Phase) error
}

// Config controls Supervisor behavior, mirroring config.SupervisorConfig.
type Config struct {
	MaxRejectionRetries int
	ConsensusModels     []string
	ConsensusMode       consensus.Mode
	ConsensusQuorumK    int
	ConsensusWeights    map[string]float64
	ConsensusTimeoutS   int
}

// Supervisor reacts to REVIEW tasks.
type Supervisor struct {
	cfg       Config
	store     Store
	locks     *lock.Manager
	gates     GateRunner
	consensus ConsensusPoller
	events    *eventlog.Log
	resolveWS WorkspaceResolver
	phases    PhaseAdvancer
}

// New wires a Supervisor. events may be nil in tests.
func New(cfg Config, st Store, locks *lock.Manager, gateEngine GateRunner, consensusEngine ConsensusPoller, events *eventlog.Log, resolveWS WorkspaceResolver) *Supervisor {
	if cfg.MaxRejectionRetries <= 0 {
		cfg.MaxRejectionRetries = 2
	}
	if resolveWS == nil {
		resolveWS = func(t *task.Task) gates.Workspace { return gates.Workspace{} }
	}
	return &Supervisor{
		cfg:       cfg,
		store:     st,
		locks:     locks,
		gates:     gateEngine,
		consensus: consensusEngine,
		events:    events,
		resolveWS: resolveWS,
	}
}

// SetPhaseMachine wires the Phase Machine that approve() advances on
// task completion, per spec.md §4.14's "only the Supervisor may
// advance it". Optional: a Supervisor built without one simply never
// advances phase, for deployments and tests with no phase tracking.
func (s *Supervisor) SetPhaseMachine(m PhaseAdvancer) {
	s.phases = m
}

// HandleReview runs the six-step REVIEW handling contract from
// spec.md §4.13 for one task, re-entrantly: every step is guarded by
// the task's current persisted state, so a crash between any two steps
// is safe to resume by calling HandleReview again.
func (s *Supervisor) HandleReview(taskID string) error {
	return s.locks.WithLock(lockName(taskID), 30*time.Second, func() error {
		t, err := s.store.GetTask(taskID)
		if err != nil {
			return err
		}
		if t.State != task.StateReview {
			return nil // already advanced past REVIEW by a prior run
		}

		log := logger.WithTask(taskID)
		ws := s.resolveWS(t)
		ws.DiffEmpty = gates.DiffEmpty(ws.Dir)

		// The final Consensus Engine poll runs ahead of the gate pass so
		// EXE-009 (multi-model review) sees real approval counts instead
		// of always failing closed on ConsensusTotal == 0. GATES_RUN is
		// still emitted before the consensus decision event, per
		// spec.md §8-S1's required ordering.
		verdict := s.runFinalConsensus(t, ws)
		ws.ConsensusApprovals, ws.ConsensusTotal = tallyConsensusVotes(verdict.Votes)

		gateResults := s.gates.Run(ws)
		s.emit(eventlog.EventGatesRun, t, map[string]interface{}{"approved": gates.Approved(gateResults)})

		if !gates.Approved(gateResults) {
			feedback := buildGateFeedback(gateResults)
			log.Info().Str("feedback", feedback).Msg("quality gates failed, rejecting")
			return s.reject(t, feedback)
		}

		s.emit(consensusEvent(verdict.Decision), t, map[string]interface{}{"decision": string(verdict.Decision), "detail": verdict.Detail})

		switch verdict.Decision {
		case consensus.DecisionApprove:
			return s.approve(t)
		default:
			return s.reject(t, buildConsensusFeedback(verdict))
		}
	})
}

func (s *Supervisor) approve(t *task.Task) error {
	if err := s.store.TransitionTask(t.TaskID, task.StateReview, task.StateApproved, func(tk *task.Task) error {
		sm := task.NewStateMachine(tk)
		return sm.Transition(task.StateCompleted)
	}); err != nil {
		return err
	}
	// NOTE: TransitionTask validates the REVIEW -> target edge for the
	// first argument only; the mutate callback above performs the
	// second hop (APPROVED -> COMPLETED) in the same critical section,
	// matching spec.md's "REVIEW -> APPROVED -> COMPLETED" single step.

	s.emit(eventlog.EventTaskCompleted, t, nil)
	s.advancePhase(t)
	return nil
}

// advancePhase advances the task's group (its Lane, or its own task ID
// for a task with no lane) to the next phase in the linear DAG, now
// that one of the group's tasks has completed. A missing precondition
// or an already-complete group is not an error here: phase tracking is
// advisory bookkeeping layered on top of task completion, not a gate
// on it.
func (s *Supervisor) advancePhase(t *task.Task) {
	if s.phases == nil {
		return
	}
	groupID := t.Lane
	if groupID == "" {
		groupID = t.TaskID
	}

	current, err := s.phases.Current(groupID)
	if err != nil {
		logger.WithTask(t.TaskID).Error().Err(err).Msg("failed to read phase")
		return
	}
	next, ok := phase.Next(current)
	if !ok {
		return
	}
	if err := s.phases.Advance(groupID, next); err != nil {
		logger.WithTask(t.TaskID).Debug().Err(err).Str("group_id", groupID).
			Str("target_phase", string(next)).Msg("phase not advanced")
		return
	}
	s.emit(eventlog.EventPhaseChange, t, map[string]interface{}{"group_id": groupID, "phase": string(next)})
}

func (s *Supervisor) reject(t *task.Task, feedback string) error {
	if err := s.store.TransitionTask(t.TaskID, task.StateReview, task.StateRejected, func(tk *task.Task) error {
		tk.Error = feedback
		return nil
	}); err != nil {
		return err
	}
	s.emit(eventlog.EventTaskRejected, t, map[string]interface{}{"reason": feedback})

	if t.RetryCount < s.cfg.MaxRejectionRetries {
		if err := s.store.TransitionTask(t.TaskID, task.StateRejected, task.StateQueued, func(tk *task.Task) error {
			tk.RetryCount++
			tk.AssignedWorker = ""
			if tk.Payload != "" {
				tk.Payload = tk.Payload + "\n\n[reviewer feedback]\n" + feedback
			} else {
				tk.Payload = feedback
			}
			return nil
		}); err != nil {
			return err
		}
		s.emit(eventlog.EventTaskRequeued, t, map[string]interface{}{"retry_count": t.RetryCount + 1})
		return nil
	}

	if err := s.store.TransitionTask(t.TaskID, task.StateRejected, task.StateRejectedTerminal, nil); err != nil {
		return err
	}
	s.emit(eventlog.EventEscalation, t, map[string]interface{}{"reason": feedback, "retry_count": t.RetryCount})
	return nil
}

func (s *Supervisor) runFinalConsensus(t *task.Task, ws gates.Workspace) consensus.Result {
	prompt := fmt.Sprintf("Final approval review for task %s (%s): %s", t.TaskID, t.Type, t.Payload)
	cfg := consensus.Config{
		Models:   s.cfg.ConsensusModels,
		Mode:     s.cfg.ConsensusMode,
		QuorumK:  s.cfg.ConsensusQuorumK,
		Weights:  s.cfg.ConsensusWeights,
		Timeout:  s.cfg.ConsensusTimeoutS,
		TaskType: string(t.Type),
	}
	return s.consensus.Poll(context.Background(), cfg, prompt, t.TraceID)
}

// tallyConsensusVotes counts non-abstained votes for EXE-009's
// approval ratio, the same abstain-skipping rule the aggregate*
// functions in internal/consensus use.
func tallyConsensusVotes(votes []consensus.Vote) (approvals, total int) {
	for _, v := range votes {
		if v.Abstained {
			continue
		}
		total++
		if v.Decision == consensus.DecisionApprove {
			approvals++
		}
	}
	return approvals, total
}

func (s *Supervisor) emit(evType eventlog.Type, t *task.Task, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	_ = s.events.Append(eventlog.New(evType, "supervisor", t.TaskID, t.TraceID, payload))
}

func lockName(taskID string) string { return "task_artifact:" + taskID }

func consensusEvent(d consensus.Decision) eventlog.Type {
	if d == consensus.DecisionApprove {
		return eventlog.EventConsensusApprove
	}
	return eventlog.EventConsensusReject
}

func buildGateFeedback(results map[gates.ID]gates.Result) string {
	failing := gates.FailingBlocking(results)
	msg := "quality gate failures:"
	for _, r := range failing {
		msg += fmt.Sprintf(" %s=%s(%s)", r.ID, r.Verdict, r.Detail)
	}
	return msg
}

func buildConsensusFeedback(r consensus.Result) string {
	msg := fmt.Sprintf("consensus %s: %s; votes:", r.Decision, r.Detail)
	for _, v := range r.Votes {
		if v.Abstained {
			msg += fmt.Sprintf(" %s=ABSTAIN", v.Model)
			continue
		}
		msg += fmt.Sprintf(" %s=%s", v.Model, v.Decision)
	}
	return msg
}
