package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowforge/sdlc-orchestrator/internal/archive"
	"github.com/flowforge/sdlc-orchestrator/internal/control"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/store"
	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

// AdminStore is the subset of internal/store.Store the admin API needs.
type AdminStore interface {
	GetTask(taskID string) (*task.Task, error)
	ListTasks() ([]*task.Task, error)
	GetWorker(workerID string) (*store.Worker, error)
	ListWorkers() ([]*store.Worker, error)
}

// BreakerRegistry is the subset of internal/breaker.Registry the admin
// API needs.
type BreakerRegistry interface {
	States() map[string]string
}

// BudgetStatus is the subset of internal/budget.Watchdog the admin API
// needs.
type BudgetStatus interface {
	Paused() bool
	Killed() bool
	SpendRatePerMin() float64
}

// Archive is the subset of internal/archive.Archive the admin API needs.
type Archive interface {
	List(dirName string) ([]archive.ArchivedTask, error)
	Reopen(taskID string) (*task.Task, error)
}

// AdminHandler serves the read-only admin/observability surface of
// SPEC_FULL.md §6.6, re-pointed at the State Store and in-process
// component registries instead of the teacher's Redis-backed
// queue/DLQ. It never accepts new task payloads — artifact ingestion
// is exclusively the Queue Watcher's filesystem poll.
type AdminHandler struct {
	store    AdminStore
	breakers BreakerRegistry
	budget   BudgetStatus
	archive  Archive
	pause    *control.AdvisoryPause
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(st AdminStore, breakers BreakerRegistry, budget BudgetStatus, arc Archive, pause *control.AdvisoryPause) *AdminHandler {
	return &AdminHandler{
		store:    st,
		breakers: breakers,
		budget:   budget,
		archive:  arc,
		pause:    pause,
	}
}

// HealthCheck handles GET /admin/health.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListWorkers(); err != nil {
		logger.Error().Err(err).Msg("health check: state store unreachable")
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"store":  "unreachable",
			"error":  err.Error(),
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"store":  "reachable",
		"paused": h.pause.Paused(),
	})
}

// ListWorkers handles GET /admin/workers.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.ListWorkers()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list workers")
		h.respondError(w, http.StatusInternalServerError, "failed to list workers")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// GetWorker handles GET /admin/workers/{workerID}.
func (h *AdminHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}

	wk, err := h.store.GetWorker(workerID)
	if err != nil {
		if err == store.ErrWorkerNotFound {
			h.respondError(w, http.StatusNotFound, "worker not found")
			return
		}
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to get worker")
		h.respondError(w, http.StatusInternalServerError, "failed to get worker")
		return
	}

	h.respondJSON(w, http.StatusOK, wk)
}

// GetQueues handles GET /admin/queues: QUEUED task counts by priority.
func (h *AdminHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to get queue statistics")
		return
	}

	depths := map[string]int{
		task.PriorityCritical.String(): 0,
		task.PriorityHigh.String():     0,
		task.PriorityLow.String():      0,
	}
	var total int
	for _, t := range tasks {
		if t.State != task.StateQueued {
			continue
		}
		depths[t.Priority.String()]++
		total++
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"queues":      depths,
		"total_depth": total,
	})
}

// GetArchive handles GET /admin/archive?dir=completed|rejected.
func (h *AdminHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		dir = "completed"
	}

	entries, err := h.archive.List(dir)
	if err != nil {
		logger.Error().Err(err).Str("dir", dir).Msg("failed to list archive")
		h.respondError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"dir":     dir,
		"entries": entries,
		"count":   len(entries),
	})
}

// ReopenTask handles POST /admin/archive/{taskID}/reopen.
func (h *AdminHandler) ReopenTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	derived, err := h.archive.Reopen(taskID)
	if err != nil {
		switch err {
		case task.ErrTaskNotFound:
			h.respondError(w, http.StatusNotFound, "task not found")
		case archive.ErrNotRejectedTerminal:
			h.respondError(w, http.StatusConflict, "only REJECTED_TERMINAL tasks can be reopened")
		default:
			logger.Error().Err(err).Str("task_id", taskID).Msg("failed to reopen task")
			h.respondError(w, http.StatusInternalServerError, "failed to reopen task")
		}
		return
	}

	logger.Info().Str("task_id", taskID).Str("derived_task_id", derived.TaskID).Msg("task reopened by operator")
	h.respondJSON(w, http.StatusOK, derived)
}

// GetBreakers handles GET /admin/breakers.
func (h *AdminHandler) GetBreakers(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": h.breakers.States(),
	})
}

// GetBudget handles GET /admin/budget.
func (h *AdminHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"paused":             h.budget.Paused(),
		"killed":             h.budget.Killed(),
		"spend_rate_per_min": h.budget.SpendRatePerMin(),
	})
}

// Pause handles POST /admin/pause (SIGUSR1 equivalent, SPEC_FULL.md §6.6).
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.pause.Pause()
	logger.Info().Msg("new task claims paused via admin API")
	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{"message": "paused"})
}

// Resume handles POST /admin/resume (SIGUSR2 equivalent, SPEC_FULL.md §6.6).
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.pause.Resume()
	logger.Info().Msg("task claims resumed via admin API")
	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{"message": "resumed"})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
