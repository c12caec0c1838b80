// Package delegate implements the Delegate Invoker (C7): spawning a
// delegate subprocess (claude/codex/gemini), enforcing its timeout,
// parsing its JSON envelope, and updating the Circuit Breaker and Cost
// Tracker, per spec.md §4.7/§6.2. It also implements the Retry &
// Fallback orchestration (C8, spec.md §4.8) that the Worker Pool's main
// loop delegates to on every delegate call.
//
// The teacher (a Redis task queue) has no subprocess-invocation code of
// its own; the cmdFactory injection seam and stdin-piped-prompt
// invocation are grounded on nick-dorsch/ponder's Orchestrator.runWorker
// (other_examples/f368993f_...-orchestrator.go.go), and the
// StdoutPipe/StderrPipe reaping shape is grounded on
// Nehonix-Team-XyPriss's cluster Worker.Spawn
// (other_examples/e6671570_...-worker.go.go).
package delegate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/breaker"
	"github.com/flowforge/sdlc-orchestrator/internal/classify"
	"github.com/flowforge/sdlc-orchestrator/internal/cost"
	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/mask"
)

// Envelope is the delegate subprocess's stdout contract (spec.md §6.2).
type Envelope struct {
	Model        string  `json:"model"`
	Status       string  `json:"status"`
	Decision     string  `json:"decision"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	Output       string  `json:"output"`
	TraceID      string  `json:"trace_id"`
	DurationMs   int     `json:"duration_ms"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"

	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
	DecisionAbstain = "ABSTAIN"
)

var (
	// ErrBreakerOpen is returned when the circuit breaker blocks a call
	// before any process is spawned.
	ErrBreakerOpen = errors.New("delegate: circuit breaker open for model")
	// ErrAllModelsUnavailable is returned by CallWithFallback when every
	// model in the chain is currently OPEN (spec.md §4.8/§9).
	ErrAllModelsUnavailable = errors.New("delegate: all models in fallback chain unavailable")
)

// CommandFactory constructs the subprocess for a single delegate call.
// Overridable in tests so no real claude/codex/gemini binary needs to
// exist on the test machine.
type CommandFactory func(ctx context.Context, model string, timeoutSeconds int, traceID string) *exec.Cmd

// BinaryForModel maps a model name to its delegate CLI binary; the
// binaries are named identically to the model.
func BinaryForModel(model string) string { return model }

// DefaultCommandFactory invokes "<model> --timeout <s> --trace-id <id>"
// per the subprocess contract in spec.md §6.2, with the prompt piped on
// stdin by the caller. The delegate is started in its own process
// group (Setpgid) so that a timeout or cancellation can kill the whole
// group rather than leaking children the delegate forked (spec.md
// §4.10/§5's "cancelled by killing the delegate process group").
func DefaultCommandFactory(ctx context.Context, model string, timeoutSeconds int, traceID string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, BinaryForModel(model),
		"--timeout", strconv.Itoa(timeoutSeconds),
		"--trace-id", traceID,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	return cmd
}

// killProcessGroup sends SIGKILL to cmd's whole process group (the
// negative PID form of kill(2)), which only works because
// DefaultCommandFactory set Setpgid so cmd's PID is also its PGID.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// Invoker is the Delegate Invoker (C7).
type Invoker struct {
	cmdFactory CommandFactory
	breakers   *breaker.Registry
	costs      *cost.Tracker
	events     *eventlog.Log
	retry      classify.RetryPolicy
}

// NewInvoker wires the Invoker to the already-constructed Circuit
// Breaker registry, Cost Tracker and Event Log. breakers/costs/events
// may be nil in tests that only exercise envelope parsing.
func NewInvoker(breakers *breaker.Registry, costs *cost.Tracker, events *eventlog.Log, retry classify.RetryPolicy) *Invoker {
	return &Invoker{
		cmdFactory: DefaultCommandFactory,
		breakers:   breakers,
		costs:      costs,
		events:     events,
		retry:      retry,
	}
}

// WithCommandFactory overrides subprocess construction; used by tests to
// substitute a fake delegate binary.
func (inv *Invoker) WithCommandFactory(f CommandFactory) *Invoker {
	inv.cmdFactory = f
	return inv
}

// Invoke performs a single delegate call: one process spawn, one
// envelope, no retry or fallback. CallWithFallback composes this with
// the C8 retry/fallback policy.
func (inv *Invoker) Invoke(ctx context.Context, model, prompt string, timeoutSeconds int, taskType, traceID string) (*Envelope, classify.Kind, error) {
	if inv.breakers != nil && !inv.breakers.ShouldCall(model) {
		return nil, classify.KindModelUnavailable, ErrBreakerOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	cmd := inv.cmdFactory(callCtx, model, timeoutSeconds, traceID)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsedMs := int(time.Since(start).Milliseconds())

	if maskedStderr := mask.Redact(stderr.String()); maskedStderr != "" {
		logger.WithTrace(traceID).Warn().Str("model", model).Str("stderr", maskedStderr).Msg("delegate stderr")
	}

	env, parseErr := parseEnvelope(stdout.Bytes())

	var kind classify.Kind
	var resultErr error

	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		kind = classify.KindTimeout
		resultErr = fmt.Errorf("delegate: %s: timeout after %ds", model, timeoutSeconds)
	case runErr != nil:
		kind = classify.Classify(exitCodeOf(runErr), stderr.String())
		resultErr = fmt.Errorf("delegate: %s: %w", model, runErr)
	case parseErr != nil:
		kind = classify.KindUnknown
		resultErr = fmt.Errorf("delegate: %s: malformed envelope: %w", model, parseErr)
	case env.Status != StatusSuccess:
		kind = classify.Classify(0, env.Reasoning)
		resultErr = fmt.Errorf("delegate: %s: status=%s", model, env.Status)
	}

	inputTokens, outputTokens, durationMs := 0, 0, elapsedMs
	if env != nil {
		inputTokens, outputTokens = env.InputTokens, env.OutputTokens
		if env.DurationMs > 0 {
			durationMs = env.DurationMs
		}
	}
	if inv.costs != nil {
		_ = inv.costs.RecordRequest(model, inputTokens, outputTokens, durationMs, taskType, traceID)
	}

	if resultErr != nil {
		if inv.breakers != nil {
			inv.breakers.RecordFailure(model, kind)
		}
		if inv.events != nil {
			_ = inv.events.Append(eventlog.New(eventlog.EventDelegateFailure, "delegate_invoker", "", traceID,
				map[string]interface{}{"model": model, "kind": string(kind), "error": mask.Redact(resultErr.Error())}))
		}
		return env, kind, resultErr
	}

	if inv.breakers != nil {
		inv.breakers.RecordSuccess(model)
	}
	if inv.events != nil {
		_ = inv.events.Append(eventlog.New(eventlog.EventDelegateSuccess, "delegate_invoker", "", traceID,
			map[string]interface{}{"model": model, "decision": env.Decision}))
	}
	return env, "", nil
}

// CallWithFallback implements the Retry & Fallback component (C8): it
// retries the current model per its classified kind's policy, then
// rotates through chain when the kind allows fallback, bounded to one
// rotation per chain entry so a persistently-failing chain terminates
// rather than looping forever.
func (inv *Invoker) CallWithFallback(ctx context.Context, chain []string, startModel, prompt string, timeoutSeconds int, taskType, traceID string) (*Envelope, error) {
	if len(chain) == 0 {
		chain = classify.FallbackChain
	}
	model := startModel
	if model == "" {
		model = chain[0]
	}

	attemptsForModel := 0
	rotations := 0

	for {
		if inv.breakers != nil && inv.breakers.AllOpen(chain) {
			return nil, ErrAllModelsUnavailable
		}

		env, kind, err := inv.Invoke(ctx, model, prompt, timeoutSeconds, taskType, traceID)
		if err == nil {
			return env, nil
		}

		policy := classify.PolicyFor(kind)

		if classify.ShouldRetry(kind, attemptsForModel) {
			attemptsForModel++
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(inv.retry.Backoff(attemptsForModel)):
			}
			continue
		}

		if !policy.AllowsFallback || rotations >= len(chain) {
			return env, err
		}

		rotations++
		attemptsForModel = 0
		model = classify.NextModel(model)
	}
}

// parseEnvelope decodes the delegate's stdout. It tolerates diagnostic
// lines surrounding the envelope by scanning line-by-line for the JSON
// object when a whole-buffer decode fails.
func parseEnvelope(out []byte) (*Envelope, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("empty stdout")
	}

	var env Envelope
	if err := json.Unmarshal(out, &env); err == nil {
		return &env, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	found := false
	var lastErr error
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Envelope
		if err := json.Unmarshal(line, &e); err == nil {
			env, found = e, true
			continue
		} else {
			lastErr = err
		}
	}
	if !found {
		if lastErr == nil {
			lastErr = fmt.Errorf("no JSON envelope found in stdout")
		}
		return nil, lastErr
	}
	return &env, nil
}

func exitCodeOf(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
