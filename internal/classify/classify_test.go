package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		expected Kind
	}{
		{"rate limit", "Error: rate limit exceeded, 429 Too Many Requests", KindRateLimit},
		{"auth", "401 Unauthorized: invalid api key", KindAuthError},
		{"timeout", "context deadline exceeded", KindTimeout},
		{"model unavailable", "503 Service Unavailable: model not found", KindModelUnavailable},
		{"transient", "dial tcp: connection reset by peer", KindTransient},
		{"unknown", "something inexplicable happened", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(1, tt.stderr))
		})
	}
}

func TestPolicyFor_Matrix(t *testing.T) {
	assert.Equal(t, 3, PolicyFor(KindRateLimit).MaxAttempts)
	assert.Equal(t, 2, PolicyFor(KindTimeout).MaxAttempts)
	assert.Equal(t, 1, PolicyFor(KindModelUnavailable).MaxAttempts)
	assert.Equal(t, 2, PolicyFor(KindTransient).MaxAttempts)
	assert.Equal(t, 0, PolicyFor(KindUnknown).MaxAttempts)
	assert.Equal(t, 0, PolicyFor(KindAuthError).MaxAttempts)

	assert.True(t, PolicyFor(KindModelUnavailable).ForcesBreaker)
	assert.False(t, PolicyFor(KindAuthError).AllowsFallback)
	assert.False(t, PolicyFor(KindTransient).AllowsFallback)
	assert.True(t, PolicyFor(KindRateLimit).AllowsFallback)
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(KindRateLimit, 0))
	assert.True(t, ShouldRetry(KindRateLimit, 2))
	assert.False(t, ShouldRetry(KindRateLimit, 3))
	assert.False(t, ShouldRetry(KindAuthError, 0))
}

func TestRetryPolicy_Backoff_CapsAtMax(t *testing.T) {
	p := RetryPolicy{BaseSeconds: 5, MaxSeconds: 300, JitterPct: 0}

	d1 := p.Backoff(1)
	assert.Equal(t, 5*time.Second, d1)

	d10 := p.Backoff(10)
	assert.Equal(t, 300*time.Second, d10)
}

func TestRetryPolicy_Backoff_Exponential(t *testing.T) {
	p := RetryPolicy{BaseSeconds: 5, MaxSeconds: 300, JitterPct: 0}

	assert.Equal(t, 5*time.Second, p.Backoff(1))
	assert.Equal(t, 10*time.Second, p.Backoff(2))
	assert.Equal(t, 20*time.Second, p.Backoff(3))
}

func TestRetryPolicy_Backoff_WithinJitterBound(t *testing.T) {
	p := RetryPolicy{BaseSeconds: 5, MaxSeconds: 300, JitterPct: 0.20}

	for i := 0; i < 20; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestNextModel_CyclesAndWraps(t *testing.T) {
	assert.Equal(t, "codex", NextModel("claude"))
	assert.Equal(t, "gemini", NextModel("codex"))
	assert.Equal(t, "claude", NextModel("gemini"))
	assert.Equal(t, "claude", NextModel("unknown-model"))
}
