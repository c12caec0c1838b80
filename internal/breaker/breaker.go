// Package breaker implements the Circuit Breaker (C4): a per-model
// CLOSED/OPEN/HALF_OPEN availability guard, per spec.md §4.4. It is
// gobreaker's first real caller in the retrieved pack (declared but
// unused in jordigilh-kubernaut/go.mod) — it supplies exactly the state
// machine spec.md calls for, so no hand-rolled equivalent is needed.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowforge/sdlc-orchestrator/internal/classify"
	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
)

// Config mirrors spec.md §6.4's breaker.* keys.
type Config struct {
	FailureThreshold uint32
	CooldownSeconds  int
}

// Registry owns one gobreaker.CircuitBreaker per model, created lazily
// on first use so the model set need not be known up front.
type Registry struct {
	cfg    Config
	events *eventlog.Log

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// SetEventLog wires the Event Log that OnStateChange transitions are
// reported to. Optional, mirroring supervisor.Supervisor.SetPhaseMachine:
// a Registry built without one simply never emits BREAKER_OPEN/CLOSE.
func (r *Registry) SetEventLog(events *eventlog.Log) {
	r.events = events
}

func (r *Registry) breakerFor(model string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[model]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        model,
		MaxRequests: 1, // only one HALF_OPEN probe in flight, per spec.md §4.4
		Interval:    0, // never reset CLOSED counts on a timer; only on success
		Timeout:     time.Duration(r.cfg.CooldownSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithComponent("breaker").Info().
				Str("model", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			r.emitStateChange(name, to)
		},
	})
	r.breakers[model] = b
	return b
}

// ShouldCall reports whether model may currently be invoked.
func (r *Registry) ShouldCall(model string) bool {
	b := r.breakerFor(model)
	return b.State() != gobreaker.StateOpen
}

// State returns the current gobreaker state name for a model, for the
// admin API and the all-breakers-OPEN fast-fail check.
func (r *Registry) State(model string) gobreaker.State {
	return r.breakerFor(model).State()
}

// RecordSuccess registers a successful delegate call.
func (r *Registry) RecordSuccess(model string) {
	b := r.breakerFor(model)
	_, _ = b.Execute(func() (interface{}, error) { return nil, nil })
}

// RecordFailure registers a failed delegate call classified as kind.
// auth_error never opens the breaker (spec.md §4.4); model_unavailable
// forces it open unconditionally (spec.md §4.8's ForcesBreaker row).
func (r *Registry) RecordFailure(model string, kind classify.Kind) {
	policy := classify.PolicyFor(kind)
	if !policy.OpensBreaker && !policy.ForcesBreaker {
		return
	}

	b := r.breakerFor(model)
	if policy.ForcesBreaker {
		for i := uint32(0); i < r.cfg.FailureThreshold; i++ {
			_, _ = b.Execute(func() (interface{}, error) { return nil, assertErr })
		}
		return
	}
	_, _ = b.Execute(func() (interface{}, error) { return nil, assertErr })
}

// emitStateChange reports OPEN/CLOSE transitions to the Event Log.
// HALF_OPEN is an internal probing state, not one spec.md's BREAKER_*
// events cover, so it is not emitted.
func (r *Registry) emitStateChange(model string, to gobreaker.State) {
	if r.events == nil {
		return
	}
	var evType eventlog.Type
	switch to {
	case gobreaker.StateOpen:
		evType = eventlog.EventBreakerOpen
	case gobreaker.StateClosed:
		evType = eventlog.EventBreakerClose
	default:
		return
	}
	_ = r.events.Append(eventlog.New(evType, "breaker", "", "", map[string]interface{}{"model": model}))
}

var assertErr = breakerFailure{}

type breakerFailure struct{}

func (breakerFailure) Error() string { return "delegate call failed" }

// AllOpen reports whether every model in models is currently OPEN —
// spec.md §9's "fail fast with model_unavailable" resolution.
func (r *Registry) AllOpen(models []string) bool {
	for _, m := range models {
		if r.ShouldCall(m) {
			return false
		}
	}
	return len(models) > 0
}

// States returns the current gobreaker state name for every model seen
// so far, for the admin API's /admin/breakers endpoint.
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.breakers))
	for model, b := range r.breakers {
		out[model] = b.State().String()
	}
	return out
}
