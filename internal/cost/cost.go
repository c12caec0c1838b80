// Package cost implements the Cost Tracker (C5): per-request sample
// recording to a per-day rolling store, and a trailing-60-second spend
// rate, per spec.md §4.5. Samples are appended as JSONL under
// state/costs/<YYYY-MM-DD>.jsonl (spec.md §6.1), grounded on the same
// append-only-file shape as internal/eventlog.
package cost

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sample is one delegate invocation's cost/usage record.
type Sample struct {
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMs   int       `json:"duration_ms"`
	TaskType     string    `json:"task_type"`
	TraceID      string    `json:"trace_id"`
	Timestamp    time.Time `json:"timestamp"`
	CostUSD      float64   `json:"cost_usd"`
}

// PricePerThousand maps a model to its $/1K-token blended rate, used to
// turn token counts into a dollar figure for the spend-rate computation.
// Configurable in principle; fixed defaults here since spec.md does not
// enumerate per-model pricing.
var PricePerThousand = map[string]float64{
	"claude": 0.015,
	"codex":  0.010,
	"gemini": 0.008,
}

func priceFor(model string) float64 {
	if p, ok := PricePerThousand[model]; ok {
		return p
	}
	return 0.010
}

// Tracker records cost samples to a per-day file and maintains an
// in-memory trailing window for spend_rate_per_minute().
type Tracker struct {
	dir string

	mu     sync.Mutex
	window []Sample // samples within the trailing window, oldest first
}

// NewTracker creates a Tracker writing under dir (state/costs/).
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cost: create dir: %w", err)
	}
	return &Tracker{dir: dir}, nil
}

// RecordRequest appends a cost sample and folds it into the rolling
// spend-rate window, per spec.md §4.5.
func (t *Tracker) RecordRequest(model string, inputTokens, outputTokens, durationMs int, taskType, traceID string) error {
	now := time.Now().UTC()
	cost := (float64(inputTokens+outputTokens) / 1000.0) * priceFor(model)

	s := Sample{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		DurationMs:   durationMs,
		TaskType:     taskType,
		TraceID:      traceID,
		Timestamp:    now,
		CostUSD:      cost,
	}

	if err := t.appendToFile(s); err != nil {
		return err
	}

	t.mu.Lock()
	t.window = append(t.window, s)
	t.pruneLocked(now)
	t.mu.Unlock()

	return nil
}

func (t *Tracker) appendToFile(s Sample) error {
	path := filepath.Join(t.dir, s.Timestamp.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cost: open %s: %w", path, err)
	}
	defer f.Close()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("cost: marshal sample: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("cost: write: %w", err)
	}
	return nil
}

// pruneLocked drops samples older than the trailing 60-second window.
// Caller must hold t.mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(t.window) && t.window[i].Timestamp.Before(cutoff) {
		i++
	}
	t.window = t.window[i:]
}

// SpendRatePerMinute returns the current rolling spend rate, in
// dollars per minute, over the trailing 60-second window.
func (t *Tracker) SpendRatePerMinute() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(time.Now().UTC())

	var total float64
	for _, s := range t.window {
		total += s.CostUSD
	}
	return total
}

// LoadDay reads back a day's samples, for the admin API and tests.
func LoadDay(dir string, day time.Time) ([]Sample, error) {
	path := filepath.Join(dir, day.Format("2006-01-02")+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cost: open %s: %w", path, err)
	}
	defer f.Close()

	var samples []Sample
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var s Sample
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples, scanner.Err()
}
