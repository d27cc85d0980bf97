package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/taskd/internal/config"
	"github.com/me/taskd/internal/executor"
	"github.com/me/taskd/internal/scheduler"
	"github.com/me/taskd/internal/store"
)

// maxBodyBytes bounds request bodies; task payloads are tiny.
const maxBodyBytes = 1 << 20

// Server is the taskd REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	now       func() time.Time
	store     store.Store
	scheduler scheduler.Scheduler
	registry  *executor.Registry // optional; lists executors in /health
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithExecutorRegistry reports the registered executors in /health.
func WithExecutorRegistry(reg *executor.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithClock replaces time.Now for lead-time validation.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a new Server with all routes registered.
// sched may be nil if no scheduling is desired (e.g. in tests).
func New(cfg config.ServerConfig, st store.Store, sched scheduler.Scheduler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		now:       time.Now,
		store:     st,
		scheduler: sched,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// StartScheduler begins the scheduling loop in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	go func() {
		if err := s.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
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
	r.Use(middleware.RequestSize(maxBodyBytes))
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get("/health", s.handleHealth)

	r.Get("/task", s.handleListTasks)
	r.Post("/task", s.handleCreateTask)
	r.Get("/task/{id}", s.handleGetTask)
	r.Delete("/task/{id}", s.handleDeleteTask)
}
