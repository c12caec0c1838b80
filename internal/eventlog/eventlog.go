// Package eventlog implements the Event Log (C3): an append-only,
// crash-safe audit of every state transition, tagged by trace_id, per
// spec.md §3/§4.3. The Event shape is grounded on the teacher's
// events.Event (internal/events/publisher.go); the transport changes
// from Redis Pub/Sub to an append-only JSONL file under logs/events.log
// (spec.md §6.1), since this is a durable audit trail, not a live bus.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/mask"
)

// Type enumerates the event types emitted by the core's components.
type Type string

const (
	EventTaskCreated      Type = "TASK_CREATED"
	EventTaskClaimed      Type = "TASK_CLAIMED"
	EventDelegateSuccess  Type = "DELEGATE_SUCCESS"
	EventDelegateFailure  Type = "DELEGATE_FAILURE"
	EventTaskSubmitted    Type = "TASK_SUBMITTED"
	EventGatesRun         Type = "GATES_RUN"
	EventConsensusApprove Type = "CONSENSUS_APPROVE"
	EventConsensusReject  Type = "CONSENSUS_REJECT"
	EventTaskCompleted    Type = "TASK_COMPLETED"
	EventTaskRejected     Type = "TASK_REJECTED"
	EventTaskRequeued     Type = "TASK_REQUEUED"
	EventTaskFailed       Type = "TASK_FAILED"
	EventEscalation       Type = "ESCALATION"
	EventPhaseChange      Type = "PHASE_CHANGE"
	EventBudgetKill       Type = "BUDGET_KILL"
	EventBreakerOpen      Type = "BREAKER_OPEN"
	EventBreakerClose     Type = "BREAKER_CLOSE"
	EventComponentFatal   Type = "COMPONENT_FATAL"
)

// Event is an immutable audit entry, per spec.md §3.
type Event struct {
	EventType Type                   `json:"event_type"`
	Actor     string                 `json:"actor"`
	TaskID    string                 `json:"task_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	TraceID   string                 `json:"trace_id"`
}

// New builds an Event stamped with the current time.
func New(eventType Type, actor, taskID, traceID string, payload map[string]interface{}) *Event {
	return &Event{
		EventType: eventType,
		Actor:     actor,
		TaskID:    taskID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
	}
}

// Log is an append-only writer/reader over a JSONL event file.
// Every record is masked (spec.md §6.5) before it is written.
type Log struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// Open opens (creating if needed) the event log at path for appending.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &Log{path: path, f: f}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Append writes one event as a masked JSON line. Callers that need the
// transition + event write to be atomic (spec.md §4.1's "record_event
// in the same transaction") must wrap both calls in the state_writer
// or event_log named lock (internal/lock).
func (l *Log) Append(e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}
	masked := mask.Redact(string(data))

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.WriteString(masked + "\n"); err != nil {
		return fmt.Errorf("eventlog: write: %w", err)
	}
	return l.f.Sync()
}

// ReadAll scans the whole log file, for callers that need to replay
// history (recovery, admin API listing, tests). Large logs should
// instead use a streaming reader; this is a convenience for bounded use.
func ReadAll(path string) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // a corrupt line is skipped, never fatal to the reader
		}
		events = append(events, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan: %w", err)
	}
	return events, nil
}

// ByTraceID filters events to a single trace_id, preserving order.
func ByTraceID(events []*Event, traceID string) []*Event {
	var out []*Event
	for _, e := range events {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	return out
}

// ByTaskID filters events to a single task_id, preserving order.
func ByTaskID(events []*Event, taskID string) []*Event {
	var out []*Event
	for _, e := range events {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}
