// Package phase implements the Phase Machine (C14): a linear DAG over
// a task-parent group's SDLC position, per spec.md §4.14. Grounded on
// internal/task.State's ValidTransitions map/CanTransitionTo shape
// (internal/task/state.go), generalized from the task lifecycle's
// branching graph to this phase machine's strictly linear one, and on
// internal/gates for the "subset of the 12 checks must be PASS" gate
// precondition.
package phase

import (
	"errors"
	"fmt"

	"github.com/flowforge/sdlc-orchestrator/internal/gates"
)

// Phase is a group's SDLC position.
type Phase string

const (
	PhaseBrainstorm Phase = "BRAINSTORM"
	PhaseDocument   Phase = "DOCUMENT"
	PhasePlan       Phase = "PLAN"
	PhaseExecute    Phase = "EXECUTE"
	PhaseTrack      Phase = "TRACK"
	PhaseComplete   Phase = "COMPLETE"
)

// order is the linear DAG from spec.md §4.14.
var order = []Phase{PhaseBrainstorm, PhaseDocument, PhasePlan, PhaseExecute, PhaseTrack, PhaseComplete}

// Next returns the phase immediately after p, or ("", false) if p is
// terminal or unrecognized.
func Next(p Phase) (Phase, bool) {
	for i, v := range order {
		if v == p && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}

// ErrNotNext is returned when a transition target isn't the phase
// immediately following the group's current phase.
var ErrNotNext = errors.New("phase: target is not the next phase in sequence")

// ErrArtifactMissing is returned when a required artifact file is
// absent from the workspace.
type ErrArtifactMissing struct{ Path string }

func (e *ErrArtifactMissing) Error() string {
	return fmt.Sprintf("phase: required artifact missing: %s", e.Path)
}

// ErrGateNotPassed is returned when a required gate check hasn't
// PASSed.
type ErrGateNotPassed struct {
	Check  gates.ID
	Actual gates.Verdict
}

func (e *ErrGateNotPassed) Error() string {
	return fmt.Sprintf("phase: required gate %s is %s, not PASS", e.Check, e.Actual)
}

// Precondition describes what a transition into a phase requires.
type Precondition struct {
	Phase             Phase
	RequiredArtifacts []string    // paths relative to the group workspace
	RequiredGates     []gates.ID  // must all be PASS
}

// DefaultPreconditions is a reasonable default precondition set; real
// deployments are expected to override it via Machine.SetPreconditions
// to match their own artifact naming conventions.
var DefaultPreconditions = map[Phase]Precondition{
	PhaseDocument: {Phase: PhaseDocument, RequiredArtifacts: []string{"BRAINSTORM.md"}},
	PhasePlan:     {Phase: PhasePlan, RequiredArtifacts: []string{"DESIGN.md"}},
	PhaseExecute:  {Phase: PhaseExecute, RequiredArtifacts: []string{"PLAN.md"}},
	PhaseTrack:    {Phase: PhaseTrack, RequiredGates: []gates.ID{gates.CheckBuild, gates.CheckTestSuite}},
	PhaseComplete: {Phase: PhaseComplete, RequiredGates: []gates.ID{gates.CheckMultiModelReview}},
}

// ArtifactChecker reports whether path exists in a group's workspace.
type ArtifactChecker func(groupID, path string) bool

// GateResults supplies a group's current gate verdicts for gate
// preconditions; callers typically pass the Supervisor's last
// gates.Engine.Run output for the group.
type GateResults func(groupID string) map[gates.ID]gates.Result

// PhaseStore is the subset of internal/store.Store the Phase Machine
// needs — phase is persisted there, per spec.md §4.14.
type PhaseStore interface {
	GetPhase(groupID string) (string, error)
	PutPhase(groupID, phase string) error
}

// Machine enforces the linear DAG and its preconditions. Only the
// Supervisor is expected to call Advance, per spec.md §4.14's "only
// the Supervisor may advance it".
type Machine struct {
	store         PhaseStore
	preconditions map[Phase]Precondition
	hasArtifact   ArtifactChecker
	gateResults   GateResults
}

// New builds a Machine with DefaultPreconditions. hasArtifact/gateResults
// may be nil if a deployment has no artifact or gate preconditions to
// enforce (every RequiredArtifacts/RequiredGates list is then treated
// as unsatisfiable, failing closed).
func New(store PhaseStore, hasArtifact ArtifactChecker, gateResults GateResults) *Machine {
	cp := make(map[Phase]Precondition, len(DefaultPreconditions))
	for k, v := range DefaultPreconditions {
		cp[k] = v
	}
	return &Machine{store: store, preconditions: cp, hasArtifact: hasArtifact, gateResults: gateResults}
}

// SetPreconditions overrides the precondition for one phase.
func (m *Machine) SetPreconditions(p Precondition) {
	m.preconditions[p.Phase] = p
}

// Current returns groupID's persisted phase, defaulting to BRAINSTORM
// for a group never recorded before.
func (m *Machine) Current(groupID string) (Phase, error) {
	raw, err := m.store.GetPhase(groupID)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return PhaseBrainstorm, nil
	}
	return Phase(raw), nil
}

// Advance moves groupID to target, validating it is the immediate
// successor of the group's current phase and that target's
// preconditions are satisfied.
func (m *Machine) Advance(groupID string, target Phase) error {
	current, err := m.Current(groupID)
	if err != nil {
		return err
	}

	expected, ok := Next(current)
	if !ok || expected != target {
		return ErrNotNext
	}

	if err := m.checkPreconditions(groupID, target); err != nil {
		return err
	}

	return m.store.PutPhase(groupID, string(target))
}

func (m *Machine) checkPreconditions(groupID string, target Phase) error {
	pre, ok := m.preconditions[target]
	if !ok {
		return nil
	}

	for _, artifact := range pre.RequiredArtifacts {
		if m.hasArtifact == nil || !m.hasArtifact(groupID, artifact) {
			return &ErrArtifactMissing{Path: artifact}
		}
	}

	if len(pre.RequiredGates) == 0 {
		return nil
	}
	if m.gateResults == nil {
		return &ErrGateNotPassed{Check: pre.RequiredGates[0], Actual: gates.VerdictSkip}
	}
	results := m.gateResults(groupID)
	for _, id := range pre.RequiredGates {
		r, ok := results[id]
		if !ok || r.Verdict != gates.VerdictPass {
			verdict := gates.VerdictSkip
			if ok {
				verdict = r.Verdict
			}
			return &ErrGateNotPassed{Check: id, Actual: verdict}
		}
	}
	return nil
}
