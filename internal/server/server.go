package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/dispatch/internal/config"
	"github.com/me/dispatch/internal/registry"
	"github.com/me/dispatch/internal/scheduler"
	"github.com/me/dispatch/internal/tasks"
)

// Server is the dispatch REST API server. It is the thin transport layer
// over the scheduling core: task service, worker registry and dispatcher.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	tasks     *tasks.Service
	registry  *registry.Registry
	scheduler scheduler.Scheduler // may be nil in tests
}

// New creates a new Server with all routes registered.
// sched may be nil if no scheduling is desired (e.g. in tests).
func New(cfg config.ServerConfig, svc *tasks.Service, reg *registry.Registry, sched scheduler.Scheduler, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		tasks:     svc,
		registry:  reg,
		scheduler: sched,
	}
	s.routes()
	return s
}

// StartScheduler begins the dispatch loop in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	go func() {
		if err := s.scheduler.Start(ctx); err != nil && err != context.Canceled {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// notifyScheduler wakes the dispatcher after an event that may unblock it.
func (s *Server) notifyScheduler() {
	if s.scheduler != nil {
		s.scheduler.Notify()
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(trace(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		// Health
		r.Get("/health", s.handleHealth)

		// Tasks
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleSubmitTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Get("/events", s.handleTaskEvents)
				r.Put("/complete", s.handleCompleteTask)
			})
		})

		// Workers
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/", s.handleRegisterWorker)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeregisterWorker)
				r.Put("/heartbeat", s.handleWorkerHeartbeat)
				r.Get("/work", s.handleWorkerPoll)
				r.Put("/tasks/{tid}/complete", s.handleWorkerReport)
			})
		})
	})
}
