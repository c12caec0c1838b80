package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_String(t *testing.T) {
	tests := []struct {
		priority Priority
		expected string
	}{
		{PriorityLow, "LOW"},
		{PriorityMedium, "MEDIUM"},
		{PriorityHigh, "HIGH"},
		{PriorityCritical, "CRITICAL"},
		{Priority(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.priority.String())
		})
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input    string
		expected Priority
	}{
		{"LOW", PriorityLow},
		{"MEDIUM", PriorityMedium},
		{"HIGH", PriorityHigh},
		{"CRITICAL", PriorityCritical},
		{"bogus", PriorityMedium},
		{"", PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParsePriority(tt.input))
		})
	}
}

func TestPriority_Ordering(t *testing.T) {
	assert.True(t, PriorityCritical > PriorityHigh)
	assert.True(t, PriorityHigh > PriorityMedium)
	assert.True(t, PriorityMedium > PriorityLow)
}

func TestType_HeartbeatTimeout(t *testing.T) {
	tests := []struct {
		typ      Type
		expected time.Duration
	}{
		{TypeLint, 300 * time.Second},
		{TypeFormat, 300 * time.Second},
		{TypeReviewCode, 300 * time.Second},
		{TypeImplementation, 900 * time.Second},
		{TypeBugfix, 900 * time.Second},
		{TypeGeneral, 900 * time.Second},
		{TypeTestSuite, 1800 * time.Second},
		{TypeSecurityAudit, 1800 * time.Second},
		{TypeCoverage, 1800 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.typ.HeartbeatTimeout())
		})
	}
}

func TestNew(t *testing.T) {
	tk := New("write hello", TypeImplementation, PriorityHigh, "write hello", 3)

	assert.NotEmpty(t, tk.TaskID)
	assert.Equal(t, tk.TaskID, tk.TraceID)
	assert.Equal(t, StateQueued, tk.State)
	assert.Equal(t, 0, tk.RetryCount)
	assert.Equal(t, 3, tk.MaxRetries)
	assert.Empty(t, tk.ParentTaskID)
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestTask_DeriveRetry_PreservesTraceID(t *testing.T) {
	parent := New("task", TypeBugfix, PriorityMedium, "payload", 2)
	parent.TraceID = "original-trace"

	derived := parent.DeriveRetry()

	assert.Equal(t, "original-trace", derived.TraceID)
	assert.Equal(t, parent.TaskID, derived.ParentTaskID)
	assert.NotEqual(t, parent.TaskID, derived.TaskID)
	assert.Equal(t, StateQueued, derived.State)
}

func TestTask_CanRetry(t *testing.T) {
	tk := New("t", TypeGeneral, PriorityLow, "p", 2)
	assert.True(t, tk.CanRetry())

	tk.RetryCount = 2
	assert.False(t, tk.CanRetry())
}

func TestTask_JSONRoundTrip(t *testing.T) {
	tk := New("t", TypeDesign, PriorityCritical, "design the thing", 3)

	data, err := tk.ToJSON()
	require.NoError(t, err)

	back, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, tk.TaskID, back.TaskID)
	assert.Equal(t, tk.Type, back.Type)
	assert.Equal(t, tk.Priority, back.Priority)
}

func TestLess_PriorityThenAge(t *testing.T) {
	older := New("a", TypeGeneral, PriorityHigh, "p", 3)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := New("b", TypeGeneral, PriorityHigh, "p", 3)

	assert.True(t, Less(older, newer))
	assert.False(t, Less(newer, older))

	critical := New("c", TypeGeneral, PriorityCritical, "p", 3)
	assert.True(t, Less(critical, older))
}
