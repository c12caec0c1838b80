// Package metrics exposes the orchestrator's Prometheus instruments,
// grounded on the teacher's internal/metrics package: the same
// promauto var-block-plus-RecordX-helper shape, generalized from the
// teacher's task-queue/Redis/WebSocket metric set to this spec's
// task/delegate/breaker/consensus/budget/phase domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_submitted_total",
			Help: "Total number of tasks ingested from queue artifacts",
		},
		[]string{"type", "priority"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"type", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "End-to-end task duration from claim to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 15),
		},
		[]string{"type"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_task_retries_total",
			Help: "Total number of task retries (delegate failure or gate rejection)",
		},
		[]string{"type", "reason"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current number of QUEUED tasks by priority",
		},
		[]string{"priority"},
	)

	// Worker metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_active_workers",
			Help: "Current number of live worker slots",
		},
	)

	WorkerBusyTime = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_worker_busy_seconds_total",
			Help: "Total time workers spent invoking delegates",
		},
		[]string{"worker_id"},
	)

	// Delegate metrics
	DelegateCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_delegate_call_duration_seconds",
			Help:    "Delegate subprocess invocation duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"model", "status"},
	)

	DelegateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_delegate_failures_total",
			Help: "Total delegate invocation failures by classified kind",
		},
		[]string{"model", "kind"},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_breaker_state",
			Help: "Circuit breaker state per model (0=closed, 1=half-open, 2=open)",
		},
		[]string{"model"},
	)

	// Consensus & gate metrics
	ConsensusDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_consensus_decision_total",
			Help: "Total consensus poll outcomes",
		},
		[]string{"decision", "mode"},
	)

	GateVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_gate_verdict_total",
			Help: "Total quality gate verdicts by check",
		},
		[]string{"check_id", "verdict"},
	)

	// Phase metrics
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_phase_transition_total",
			Help: "Total Phase Machine transitions",
		},
		[]string{"from", "to"},
	)

	// Budget metrics
	CostSpendRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_cost_spend_rate_usd",
			Help: "Current rolling-window spend rate in USD",
		},
	)

	BudgetPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_budget_paused",
			Help: "1 if the Budget Watchdog has paused new claims, else 0",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_http_request_duration_seconds",
			Help:    "Admin API HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_http_requests_total",
			Help: "Total number of admin API HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Component health metrics
	ComponentRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_component_restarts_total",
			Help: "Total Daemon Supervisor component restarts",
		},
		[]string{"component"},
	)
)

// RecordTaskSubmission records a task ingested from a queue artifact.
func RecordTaskSubmission(taskType, priority string) {
	TasksSubmitted.WithLabelValues(taskType, priority).Inc()
}

// RecordTaskCompletion records a task reaching a terminal state.
func RecordTaskCompletion(taskType, status string, duration float64) {
	TasksCompleted.WithLabelValues(taskType, status).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(duration)
}

// RecordTaskRetry records a requeue, tagged with why.
func RecordTaskRetry(taskType, reason string) {
	TaskRetries.WithLabelValues(taskType, reason).Inc()
}

// UpdateQueueDepth sets the current QUEUED count for one priority.
func UpdateQueueDepth(priority string, depth float64) {
	QueueDepth.WithLabelValues(priority).Set(depth)
}

// SetActiveWorkers sets the live worker slot count.
func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

// RecordWorkerBusyTime adds to a worker's cumulative busy time.
func RecordWorkerBusyTime(workerID string, duration float64) {
	WorkerBusyTime.WithLabelValues(workerID).Add(duration)
}

// RecordDelegateCall records one delegate subprocess invocation.
func RecordDelegateCall(model, status string, duration float64) {
	DelegateCallDuration.WithLabelValues(model, status).Observe(duration)
}

// RecordDelegateFailure records a classified delegate failure.
func RecordDelegateFailure(model, kind string) {
	DelegateFailures.WithLabelValues(model, kind).Inc()
}

// SetBreakerState publishes one model's breaker state as a gauge.
func SetBreakerState(model string, state float64) {
	BreakerState.WithLabelValues(model).Set(state)
}

// RecordConsensusDecision records one Consensus Engine poll outcome.
func RecordConsensusDecision(decision, mode string) {
	ConsensusDecisions.WithLabelValues(decision, mode).Inc()
}

// RecordGateVerdict records one Quality Gate Engine check verdict.
func RecordGateVerdict(checkID, verdict string) {
	GateVerdicts.WithLabelValues(checkID, verdict).Inc()
}

// RecordPhaseTransition records one Phase Machine advance.
func RecordPhaseTransition(from, to string) {
	PhaseTransitions.WithLabelValues(from, to).Inc()
}

// SetCostSpendRate publishes the Budget Watchdog's current spend rate.
func SetCostSpendRate(usdPerHour float64) {
	CostSpendRate.Set(usdPerHour)
}

// SetBudgetPaused publishes the Budget Watchdog's pause flag.
func SetBudgetPaused(paused bool) {
	if paused {
		BudgetPaused.Set(1)
		return
	}
	BudgetPaused.Set(0)
}

// RecordHTTPRequest records an admin API request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordComponentRestart records the Daemon Supervisor restarting a
// crashed component.
func RecordComponentRestart(component string) {
	ComponentRestarts.WithLabelValues(component).Inc()
}
