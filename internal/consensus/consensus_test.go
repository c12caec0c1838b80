package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/sdlc-orchestrator/internal/classify"
	"github.com/flowforge/sdlc-orchestrator/internal/delegate"
)

type fakeDelegate struct {
	byModel map[string]*delegate.Envelope
	errFor  map[string]bool
}

func (f *fakeDelegate) Invoke(ctx context.Context, model, prompt string, timeoutSeconds int, taskType, traceID string) (*delegate.Envelope, classify.Kind, error) {
	if f.errFor[model] {
		return nil, classify.KindUnknown, assertErr
	}
	return f.byModel[model], "", nil
}

var assertErr = errOnly("delegate call failed")

type errOnly string

func (e errOnly) Error() string { return string(e) }

type fakeBreakers struct {
	open map[string]bool
}

func (f *fakeBreakers) ShouldCall(model string) bool { return !f.open[model] }

func env(decision string, confidence float64) *delegate.Envelope {
	return &delegate.Envelope{Decision: decision, Confidence: confidence}
}

func TestPoll_MajorityApprove(t *testing.T) {
	deleg := &fakeDelegate{byModel: map[string]*delegate.Envelope{
		"claude": env("APPROVE", 0.9),
		"codex":  env("APPROVE", 0.8),
		"gemini": env("REJECT", 0.7),
	}}
	e := New(deleg, nil)
	r := e.Poll(context.Background(), Config{Models: []string{"claude", "codex", "gemini"}, Mode: ModeMajority}, "p", "t1")
	assert.Equal(t, DecisionApprove, r.Decision)
}

func TestPoll_MajorityTieAbstains(t *testing.T) {
	deleg := &fakeDelegate{byModel: map[string]*delegate.Envelope{
		"claude": env("APPROVE", 0.9),
		"codex":  env("REJECT", 0.8),
	}}
	e := New(deleg, nil)
	r := e.Poll(context.Background(), Config{Models: []string{"claude", "codex"}, Mode: ModeMajority, QuorumK: 1}, "p", "t1")
	assert.Equal(t, DecisionAbstain, r.Decision)
}

func TestPoll_QuorumRequiresK(t *testing.T) {
	deleg := &fakeDelegate{byModel: map[string]*delegate.Envelope{
		"claude": env("APPROVE", 0.9),
		"codex":  env("APPROVE", 0.8),
		"gemini": env("REJECT", 0.7),
	}}
	e := New(deleg, nil)
	r := e.Poll(context.Background(), Config{Models: []string{"claude", "codex", "gemini"}, Mode: ModeQuorum, QuorumK: 2}, "p", "t1")
	assert.Equal(t, DecisionApprove, r.Decision)
}

func TestPoll_QuorumNotReached(t *testing.T) {
	deleg := &fakeDelegate{byModel: map[string]*delegate.Envelope{
		"claude": env("APPROVE", 0.9),
		"codex":  env("REJECT", 0.8),
		"gemini": env("REJECT", 0.7),
	}}
	e := New(deleg, nil)
	r := e.Poll(context.Background(), Config{Models: []string{"claude", "codex", "gemini"}, Mode: ModeQuorum, QuorumK: 3}, "p", "t1")
	assert.Equal(t, DecisionAbstain, r.Decision)
}

func TestPoll_WeightedFavorsHigherWeight(t *testing.T) {
	deleg := &fakeDelegate{byModel: map[string]*delegate.Envelope{
		"claude": env("APPROVE", 1.0),
		"codex":  env("REJECT", 1.0),
	}}
	e := New(deleg, nil)
	r := e.Poll(context.Background(), Config{
		Models:  []string{"claude", "codex"},
		Mode:    ModeWeighted,
		QuorumK: 1,
		Weights: map[string]float64{"claude": 2.0, "codex": 1.0},
	}, "p", "t1")
	assert.Equal(t, DecisionApprove, r.Decision)
}

func TestPoll_VetoAnyRejectForcesReject(t *testing.T) {
	deleg := &fakeDelegate{byModel: map[string]*delegate.Envelope{
		"claude": env("APPROVE", 0.9),
		"codex":  env("APPROVE", 0.9),
		"gemini": env("REJECT", 0.1),
	}}
	e := New(deleg, nil)
	r := e.Poll(context.Background(), Config{Models: []string{"claude", "codex", "gemini"}, Mode: ModeVeto, QuorumK: 1}, "p", "t1")
	assert.Equal(t, DecisionReject, r.Decision)
}

func TestPoll_OpenBreakerAbstainsAndDoesNotCountTowardN(t *testing.T) {
	deleg := &fakeDelegate{byModel: map[string]*delegate.Envelope{
		"claude": env("APPROVE", 0.9),
		"codex":  env("APPROVE", 0.9),
	}}
	breakers := &fakeBreakers{open: map[string]bool{"gemini": true}}
	e := New(deleg, breakers)
	r := e.Poll(context.Background(), Config{Models: []string{"claude", "codex", "gemini"}, Mode: ModeMajority, QuorumK: 2}, "p", "t1")
	assert.Equal(t, DecisionApprove, r.Decision)
	for _, v := range r.Votes {
		if v.Model == "gemini" {
			assert.True(t, v.Abstained)
		}
	}
}

func TestPoll_FewerThanQuorumKCallableIsNoConsensus(t *testing.T) {
	deleg := &fakeDelegate{byModel: map[string]*delegate.Envelope{
		"claude": env("APPROVE", 0.9),
	}}
	breakers := &fakeBreakers{open: map[string]bool{"codex": true, "gemini": true}}
	e := New(deleg, breakers)
	r := e.Poll(context.Background(), Config{Models: []string{"claude", "codex", "gemini"}, Mode: ModeQuorum, QuorumK: 2}, "p", "t1")
	assert.Equal(t, DecisionNoConsensus, r.Decision)
}

func TestPoll_DelegateErrorCountsAsAbstain(t *testing.T) {
	deleg := &fakeDelegate{
		byModel: map[string]*delegate.Envelope{"claude": env("APPROVE", 0.9)},
		errFor:  map[string]bool{"codex": true},
	}
	e := New(deleg, nil)
	r := e.Poll(context.Background(), Config{Models: []string{"claude", "codex"}, Mode: ModeMajority, QuorumK: 1}, "p", "t1")
	assert.Equal(t, DecisionApprove, r.Decision)
}
