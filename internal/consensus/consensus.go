// Package consensus implements the Consensus Engine (C12): it queries
// N delegates in parallel with one prompt and aggregates their
// decisions into a single APPROVE/REJECT/ABSTAIN/NO_CONSENSUS verdict,
// per spec.md §4.12. Grounded on the teacher's worker-pool fan-out
// shape (a WaitGroup over goroutines writing into a pre-sized slice by
// index, the same pattern `internal/worker.Pool.Start` uses to launch
// N workers) adapted here to fan out N delegate calls instead.
package consensus

import (
	"context"
	"strconv"
	"sync"

	"github.com/flowforge/sdlc-orchestrator/internal/classify"
	"github.com/flowforge/sdlc-orchestrator/internal/delegate"
)

// Decision mirrors delegate.Decision* for the aggregate result.
type Decision string

const (
	DecisionApprove     Decision = "APPROVE"
	DecisionReject      Decision = "REJECT"
	DecisionAbstain     Decision = "ABSTAIN"
	DecisionNoConsensus Decision = "NO_CONSENSUS"
)

// Mode selects the aggregation algorithm, per spec.md §4.12.
type Mode string

const (
	ModeMajority Mode = "majority"
	ModeQuorum   Mode = "quorum"
	ModeWeighted Mode = "weighted"
	ModeVeto     Mode = "veto"
)

// Breakers is the subset of breaker.Registry the engine needs to skip
// models that can't currently be called.
type Breakers interface {
	ShouldCall(model string) bool
}

// Delegate is the subset of internal/delegate.Invoker the engine needs.
// Consensus polls query each model directly (no fallback rotation): an
// individual model failing its poll contributes an abstain, it does not
// rotate to a different model the way the Worker Pool's delegate calls
// do.
type Delegate interface {
	Invoke(ctx context.Context, model, prompt string, timeoutSeconds int, taskType, traceID string) (*delegate.Envelope, classify.Kind, error)
}

// Vote is one model's contribution to the poll.
type Vote struct {
	Model      string
	Decision   Decision
	Confidence float64
	Reasoning  string
	Abstained  bool // breaker open, or the call itself errored
}

// Config controls one Poll call, per config.ConsensusConfig.
type Config struct {
	Models   []string
	QuorumK  int
	Mode     Mode
	Weights  map[string]float64
	Timeout  int
	TaskType string
}

// Result is the aggregate outcome of a Poll.
type Result struct {
	Decision Decision
	Votes    []Vote
	Detail   string
}

// Engine runs Consensus polls.
type Engine struct {
	deleg    Delegate
	breakers Breakers
}

// New builds an Engine. breakers may be nil to poll every configured
// model unconditionally (used in tests and by callers with no breaker
// registry wired).
func New(deleg Delegate, breakers Breakers) *Engine {
	return &Engine{deleg: deleg, breakers: breakers}
}

// Poll queries every model in cfg.Models in parallel with prompt and
// aggregates per cfg.Mode.
func (e *Engine) Poll(ctx context.Context, cfg Config, prompt, traceID string) Result {
	votes := make([]Vote, len(cfg.Models))
	var wg sync.WaitGroup

	for i, model := range cfg.Models {
		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			votes[i] = e.queryOne(ctx, model, prompt, cfg.Timeout, cfg.TaskType, traceID)
		}(i, model)
	}
	wg.Wait()

	callable := 0
	for _, v := range votes {
		if !v.Abstained {
			callable++
		}
	}

	quorumK := cfg.QuorumK
	if quorumK <= 0 {
		quorumK = len(cfg.Models)/2 + 1
	}
	if callable < quorumK {
		return Result{Decision: DecisionNoConsensus, Votes: votes, Detail: "fewer than quorum_k models callable"}
	}

	switch cfg.Mode {
	case ModeQuorum:
		return aggregateQuorum(votes, quorumK)
	case ModeWeighted:
		return aggregateWeighted(votes, cfg.Weights)
	case ModeVeto:
		return aggregateVeto(votes)
	default:
		return aggregateMajority(votes)
	}
}

func (e *Engine) queryOne(ctx context.Context, model, prompt string, timeout int, taskType, traceID string) Vote {
	if e.breakers != nil && !e.breakers.ShouldCall(model) {
		return Vote{Model: model, Abstained: true, Decision: DecisionAbstain}
	}

	env, _, err := e.deleg.Invoke(ctx, model, prompt, timeout, taskType, traceID)
	if err != nil || env == nil {
		return Vote{Model: model, Abstained: true, Decision: DecisionAbstain}
	}

	return Vote{
		Model:      model,
		Decision:   Decision(env.Decision),
		Confidence: env.Confidence,
		Reasoning:  env.Reasoning,
	}
}

func aggregateMajority(votes []Vote) Result {
	approve, reject := 0, 0
	for _, v := range votes {
		switch v.Decision {
		case DecisionApprove:
			approve++
		case DecisionReject:
			reject++
		}
	}
	switch {
	case approve > reject:
		return Result{Decision: DecisionApprove, Votes: votes, Detail: tally(approve, reject)}
	case reject > approve:
		return Result{Decision: DecisionReject, Votes: votes, Detail: tally(approve, reject)}
	default:
		return Result{Decision: DecisionAbstain, Votes: votes, Detail: "tie: " + tally(approve, reject)}
	}
}

func aggregateQuorum(votes []Vote, quorumK int) Result {
	approve, reject := 0, 0
	for _, v := range votes {
		switch v.Decision {
		case DecisionApprove:
			approve++
		case DecisionReject:
			reject++
		}
	}
	if approve >= quorumK {
		return Result{Decision: DecisionApprove, Votes: votes, Detail: tally(approve, reject)}
	}
	if reject >= quorumK {
		return Result{Decision: DecisionReject, Votes: votes, Detail: tally(approve, reject)}
	}
	return Result{Decision: DecisionAbstain, Votes: votes, Detail: "no decision reached quorum_k=" + strconv.Itoa(quorumK)}
}

func aggregateWeighted(votes []Vote, weights map[string]float64) Result {
	var approveW, rejectW float64
	for _, v := range votes {
		w := 1.0
		if weights != nil {
			if ww, ok := weights[v.Model]; ok {
				w = ww
			}
		}
		switch v.Decision {
		case DecisionApprove:
			approveW += w * confOrOne(v.Confidence)
		case DecisionReject:
			rejectW += w * confOrOne(v.Confidence)
		}
	}
	switch {
	case approveW > rejectW:
		return Result{Decision: DecisionApprove, Votes: votes, Detail: "weighted approve"}
	case rejectW > approveW:
		return Result{Decision: DecisionReject, Votes: votes, Detail: "weighted reject"}
	default:
		return Result{Decision: DecisionAbstain, Votes: votes, Detail: "weighted tie"}
	}
}

func aggregateVeto(votes []Vote) Result {
	for _, v := range votes {
		if v.Decision == DecisionReject {
			return Result{Decision: DecisionReject, Votes: votes, Detail: "veto: " + v.Model + " rejected"}
		}
	}
	return aggregateMajority(votes)
}

func confOrOne(c float64) float64 {
	if c <= 0 {
		return 1.0
	}
	return c
}

func tally(approve, reject int) string {
	return "approve=" + strconv.Itoa(approve) + " reject=" + strconv.Itoa(reject)
}
