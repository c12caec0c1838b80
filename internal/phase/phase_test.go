package phase

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/sdlc-orchestrator/internal/gates"
)

type fakeStore struct {
	mu     sync.Mutex
	phases map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{phases: make(map[string]string)} }

func (f *fakeStore) GetPhase(groupID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phases[groupID], nil
}

func (f *fakeStore) PutPhase(groupID, phase string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases[groupID] = phase
	return nil
}

func TestNext_LinearSequence(t *testing.T) {
	n, ok := Next(PhaseBrainstorm)
	assert.True(t, ok)
	assert.Equal(t, PhaseDocument, n)

	_, ok = Next(PhaseComplete)
	assert.False(t, ok, "COMPLETE is terminal")
}

func TestCurrent_DefaultsToBrainstorm(t *testing.T) {
	m := New(newFakeStore(), nil, nil)
	p, err := m.Current("g1")
	require.NoError(t, err)
	assert.Equal(t, PhaseBrainstorm, p)
}

func TestAdvance_RejectsSkippingAPhase(t *testing.T) {
	m := New(newFakeStore(), nil, nil)
	err := m.Advance("g1", PhasePlan)
	assert.ErrorIs(t, err, ErrNotNext)
}

func TestAdvance_RejectsMissingArtifact(t *testing.T) {
	m := New(newFakeStore(), func(groupID, path string) bool { return false }, nil)
	err := m.Advance("g1", PhaseDocument)
	var artErr *ErrArtifactMissing
	assert.True(t, errors.As(err, &artErr))
}

func TestAdvance_SucceedsWhenArtifactPresent(t *testing.T) {
	st := newFakeStore()
	m := New(st, func(groupID, path string) bool { return true }, nil)

	require.NoError(t, m.Advance("g1", PhaseDocument))

	got, err := m.Current("g1")
	require.NoError(t, err)
	assert.Equal(t, PhaseDocument, got)
}

func TestAdvance_RejectsMissingGatePass(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.PutPhase("g1", string(PhaseExecute)))

	m := New(st, func(groupID, path string) bool { return true }, func(groupID string) map[gates.ID]gates.Result {
		return map[gates.ID]gates.Result{
			gates.CheckBuild:     {Verdict: gates.VerdictPass},
			gates.CheckTestSuite: {Verdict: gates.VerdictFail},
		}
	})

	err := m.Advance("g1", PhaseTrack)
	var gateErr *ErrGateNotPassed
	assert.True(t, errors.As(err, &gateErr))
	assert.Equal(t, gates.CheckTestSuite, gateErr.Check)
}

func TestAdvance_SucceedsWhenAllGatesPass(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.PutPhase("g1", string(PhaseExecute)))

	m := New(st, func(groupID, path string) bool { return true }, func(groupID string) map[gates.ID]gates.Result {
		return map[gates.ID]gates.Result{
			gates.CheckBuild:     {Verdict: gates.VerdictPass},
			gates.CheckTestSuite: {Verdict: gates.VerdictPass},
		}
	})

	require.NoError(t, m.Advance("g1", PhaseTrack))
	got, _ := m.Current("g1")
	assert.Equal(t, PhaseTrack, got)
}

func TestAdvance_NoGateResultsFnFailsClosed(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.PutPhase("g1", string(PhaseExecute)))

	m := New(st, func(groupID, path string) bool { return true }, nil)
	err := m.Advance("g1", PhaseTrack)
	assert.Error(t, err)
}

func TestSetPreconditions_Overrides(t *testing.T) {
	m := New(newFakeStore(), nil, nil)
	m.SetPreconditions(Precondition{Phase: PhaseDocument})

	require.NoError(t, m.Advance("g1", PhaseDocument))
}
