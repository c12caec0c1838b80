package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowforge/sdlc-orchestrator/internal/api/handlers"
	apiMiddleware "github.com/flowforge/sdlc-orchestrator/internal/api/middleware"
	"github.com/flowforge/sdlc-orchestrator/internal/config"
	"github.com/flowforge/sdlc-orchestrator/internal/control"
)

// Server is the admin/observability HTTP surface of SPEC_FULL.md
// §6.6, grounded on the teacher's chi-based api.Server but re-pointed
// at the State Store and in-process component registries instead of
// Redis, and stripped of the task-intake (POST /api/v1/tasks) and
// WebSocket push surfaces the teacher carried — this system's only
// task-intake path is the Queue Watcher's filesystem poll.
type Server struct {
	router       *chi.Mux
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
}

// NewServer creates a new admin HTTP server.
func NewServer(cfg *config.Config, st handlers.AdminStore, breakers handlers.BreakerRegistry, budget handlers.BudgetStatus, arc handlers.Archive, pause *control.AdvisoryPause) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(st),
		adminHandler: handlers.NewAdminHandler(st, breakers, budget, arc, pause),
	}

	s.setupMiddleware()
	s.setupRoutes(authConfigFrom(cfg.Auth))

	return s
}

func authConfigFrom(cfg config.AuthConfig) *apiMiddleware.AuthConfig {
	keys := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys[k] = true
	}
	return &apiMiddleware.AuthConfig{
		Enabled:   cfg.Enabled,
		JWTSecret: cfg.JWTSecret,
		APIKeys:   keys,
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes(auth *apiMiddleware.AuthConfig) {
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.Auth(auth))

		if s.config.Server.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Server.RateLimitRPS))
		}

		r.Get("/health", s.adminHandler.HealthCheck)

		r.Get("/workers", s.adminHandler.ListWorkers)
		r.Get("/workers/{workerID}", s.adminHandler.GetWorker)

		r.Get("/tasks", s.taskHandler.List)
		r.Get("/tasks/{taskID}", s.taskHandler.Get)

		r.Get("/queues", s.adminHandler.GetQueues)

		r.Get("/archive", s.adminHandler.GetArchive)
		r.Post("/archive/{taskID}/reopen", s.adminHandler.ReopenTask)

		r.Get("/breakers", s.adminHandler.GetBreakers)

		r.Get("/budget", s.adminHandler.GetBudget)

		r.Post("/pause", s.adminHandler.Pause)
		r.Post("/resume", s.adminHandler.Resume)
	})

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
