package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

// TaskHandler serves read-only task inspection for the admin API
// (SPEC_FULL.md §6.6). Unlike the teacher's TaskHandler, it has no
// Create endpoint: this system's only task-intake path is the Queue
// Watcher's filesystem poll (spec.md §4.9), so exposing a submission
// endpoint here would let a caller bypass the priority-queue contract.
type TaskHandler struct {
	store AdminStore
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(st AdminStore) *TaskHandler {
	return &TaskHandler{store: st}
}

// Get handles GET /admin/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.store.GetTask(taskID)
	if err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	h.respondJSON(w, http.StatusOK, t)
}

// List handles GET /admin/tasks, optionally filtered by ?state=.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	if want := r.URL.Query().Get("state"); want != "" {
		filtered := make([]*task.Task, 0, len(tasks))
		for _, t := range tasks {
			if string(t.State) == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
