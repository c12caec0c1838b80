package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks for claiming. Comparison is total: CRITICAL >
// HIGH > MEDIUM > LOW, per spec.md §3.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority parses a directory name or filename prefix into a
// Priority, falling back to MEDIUM per spec.md §4.9.
func ParsePriority(s string) Priority {
	switch s {
	case "LOW":
		return PriorityLow
	case "MEDIUM":
		return PriorityMedium
	case "HIGH":
		return PriorityHigh
	case "CRITICAL":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// Type is the task's kind, driving its delegate prompt shape and its
// heartbeat timeout bucket (spec.md §4.10).
type Type string

const (
	TypeResearch      Type = "RESEARCH"
	TypeDesign        Type = "DESIGN"
	TypeImplementation Type = "IMPLEMENTATION"
	TypeBugfix        Type = "BUGFIX"
	TypeTestSuite     Type = "TEST_SUITE"
	TypeSecurityAudit Type = "SECURITY_AUDIT"
	TypeReviewCode    Type = "REVIEW_CODE"
	TypeLint          Type = "LINT"
	TypeFormat        Type = "FORMAT"
	TypeCoverage      Type = "COVERAGE"
	TypeGeneral       Type = "GENERAL"
)

// ValidTypes enumerates every recognized task type.
var ValidTypes = map[Type]bool{
	TypeResearch: true, TypeDesign: true, TypeImplementation: true,
	TypeBugfix: true, TypeTestSuite: true, TypeSecurityAudit: true,
	TypeReviewCode: true, TypeLint: true, TypeFormat: true,
	TypeCoverage: true, TypeGeneral: true,
}

// HeartbeatTimeout returns the per-type heartbeat timeout bucket
// enumerated in spec.md §4.10.
func (t Type) HeartbeatTimeout() time.Duration {
	switch t {
	case TypeLint, TypeFormat, TypeReviewCode:
		return 300 * time.Second
	case TypeTestSuite, TypeSecurityAudit, TypeCoverage:
		return 1800 * time.Second
	default:
		return 900 * time.Second
	}
}

// Task is the unit of work described in spec.md §3.
type Task struct {
	TaskID         string                 `json:"task_id"`
	Name           string                 `json:"name"`
	Type           Type                   `json:"type"`
	Priority       Priority               `json:"priority"`
	State          State                  `json:"state"`
	Lane           string                 `json:"lane,omitempty"`
	Shard          string                 `json:"shard,omitempty"`
	AssignedWorker string                 `json:"assigned_worker,omitempty"`
	AssignedModel  string                 `json:"assigned_model,omitempty"`
	Payload        string                 `json:"payload"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	MaxRetries     int                    `json:"max_retries"`
	ParentTaskID   string                 `json:"parent_task_id,omitempty"`
	TraceID        string                 `json:"trace_id"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time             `json:"heartbeat_at,omitempty"`
	LastActivityAt *time.Time             `json:"last_activity_at,omitempty"`
	Metadata       map[string]string      `json:"metadata,omitempty"`
}

// New creates a QUEUED task for a freshly-discovered artifact.
func New(name string, taskType Type, priority Priority, payload string, maxRetries int) *Task {
	now := time.Now().UTC()
	id := uuid.New().String()
	return &Task{
		TaskID:     id,
		Name:       name,
		Type:       taskType,
		Priority:   priority,
		State:      StateQueued,
		Payload:    payload,
		MaxRetries: maxRetries,
		TraceID:    id,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   make(map[string]string),
	}
}

// DeriveRetry builds a fresh task carrying the parent's trace_id
// forward while recording lineage, per spec.md §9's Open Question
// resolution ("preserve trace_id, set parent_task_id").
func (t *Task) DeriveRetry() *Task {
	now := time.Now().UTC()
	id := uuid.New().String()
	return &Task{
		TaskID:       id,
		Name:         t.Name,
		Type:         t.Type,
		Priority:     t.Priority,
		State:        StateQueued,
		Lane:         t.Lane,
		Shard:        t.Shard,
		Payload:      t.Payload,
		MaxRetries:   t.MaxRetries,
		ParentTaskID: t.TaskID,
		TraceID:      t.TraceID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     t.Metadata,
	}
}

// CanRetry reports whether the task has retry budget left.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// IsTerminal reports whether the task is in an immutable terminal state.
func (t *Task) IsTerminal() bool {
	return t.State.IsTerminal()
}

// ToJSON serializes the task.
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON deserializes a task.
func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Less orders tasks for claim eligibility: higher priority first, then
// older created_at first, per spec.md §3/§8 property 2.
func Less(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
