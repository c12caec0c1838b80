// Package classify implements the Retry & Fallback component (C8):
// classifying delegate failures into a fixed set of kinds and deciding
// whether to retry, how long to back off, and whether to fail over to
// the next model in the fallback chain, per spec.md §4.8. The backoff
// shape (exponential with jitter, capped at a max delay) is grounded on
// the teacher's task.RetryPolicy.CalculateBackoff.
package classify

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// Kind is the classified failure kind from spec.md §4.8.
type Kind string

const (
	KindRateLimit        Kind = "rate_limit"
	KindAuthError        Kind = "auth_error"
	KindTimeout          Kind = "timeout"
	KindModelUnavailable Kind = "model_unavailable"
	KindTransient        Kind = "transient"
	KindUnknown          Kind = "unknown"
)

// Policy describes one row of the retry policy matrix in spec.md §4.8.
type Policy struct {
	MaxAttempts    int
	OpensBreaker   bool // a single call of this kind counts as +1 breaker failure
	ForcesBreaker  bool // this kind unconditionally opens the breaker
	AllowsFallback bool
}

var policyMatrix = map[Kind]Policy{
	KindRateLimit:        {MaxAttempts: 3, OpensBreaker: false, AllowsFallback: true},
	KindTimeout:          {MaxAttempts: 2, OpensBreaker: true, AllowsFallback: true},
	KindModelUnavailable: {MaxAttempts: 1, ForcesBreaker: true, AllowsFallback: true},
	KindTransient:        {MaxAttempts: 2, OpensBreaker: true, AllowsFallback: false},
	KindUnknown:          {MaxAttempts: 0, OpensBreaker: true, AllowsFallback: true},
	KindAuthError:        {MaxAttempts: 0, AllowsFallback: false},
}

// PolicyFor returns the retry policy row for a classified kind.
func PolicyFor(k Kind) Policy {
	if p, ok := policyMatrix[k]; ok {
		return p
	}
	return policyMatrix[KindUnknown]
}

// Classify derives a Kind from a delegate process's exit code and
// stderr text. It is deliberately conservative: anything not matching
// a known shape is KindUnknown rather than guessed at.
func Classify(exitCode int, stderr string) Kind {
	s := strings.ToLower(stderr)

	switch {
	case strings.Contains(s, "rate limit") || strings.Contains(s, "429") || strings.Contains(s, "too many requests"):
		return KindRateLimit
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "forbidden") ||
		strings.Contains(s, "401") || strings.Contains(s, "403") || strings.Contains(s, "invalid api key"):
		return KindAuthError
	case strings.Contains(s, "deadline exceeded") || strings.Contains(s, "timed out") || strings.Contains(s, "timeout"):
		return KindTimeout
	case strings.Contains(s, "service unavailable") || strings.Contains(s, "503") || strings.Contains(s, "model not found"):
		return KindModelUnavailable
	case strings.Contains(s, "connection reset") || strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "econnrefused") || strings.Contains(s, "i/o timeout"):
		return KindTransient
	default:
		return KindUnknown
	}
}

// RetryPolicy holds the tunable backoff parameters from spec.md §6.4
// (retry.base_s / retry.max_s / retry.jitter_pct).
type RetryPolicy struct {
	BaseSeconds float64
	MaxSeconds  float64
	JitterPct   float64
}

// Backoff computes delay = min(base * 2^(n-1) + jitter, max_delay), for
// attempt n ≥ 1, with jitter ± JitterPct of the exponential term.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := p.BaseSeconds * math.Pow(2, float64(attempt-1))
	if exp > p.MaxSeconds {
		exp = p.MaxSeconds
	}
	jitter := exp * p.JitterPct * (rand.Float64()*2 - 1)
	delay := exp + jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay * float64(time.Second))
}

// ShouldRetry reports whether a kind's policy permits another attempt
// given the attempts already made.
func ShouldRetry(k Kind, attemptsMade int) bool {
	return attemptsMade < PolicyFor(k).MaxAttempts
}

// FallbackChain is the cyclic model rotation order from spec.md §4.8.
var FallbackChain = []string{"claude", "codex", "gemini"}

// NextModel returns the model after current in FallbackChain, wrapping
// around, for use when a classified kind allows fallback.
func NextModel(current string) string {
	for i, m := range FallbackChain {
		if m == current {
			return FallbackChain[(i+1)%len(FallbackChain)]
		}
	}
	return FallbackChain[0]
}
