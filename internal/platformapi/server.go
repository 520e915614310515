// Package platformapi implements the Platform Dispatcher: the API-key
// authenticated HTTP surface for managing templates, environments, test
// suites, and runs, per §4.J.
package platformapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/driftlane/driftlane/internal/dbstore"
	"github.com/driftlane/driftlane/internal/differ"
	"github.com/driftlane/driftlane/internal/isolation"
	"github.com/driftlane/driftlane/internal/platformdb"
	"github.com/driftlane/driftlane/internal/token"
)

// Server wires the Platform Dispatcher's routes to the core engines.
// Constructed with functional options, mirroring the corpus's plugin
// server shape.
type Server struct {
	store     *platformdb.Store
	engine    *isolation.Engine
	router    *dbstore.Router
	reflector *dbstore.Reflector
	differ    *differ.Differ
	tokens    *token.Service
	defTTL    time.Duration
	maxTTL    time.Duration
	log       *slog.Logger
	httpSrv   *http.Server
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithTTLBounds overrides the environment TTLs used by init_env: def applies
// when the caller gives no TTL, and maxTTL caps any requested TTL.
func WithTTLBounds(def, maxTTL time.Duration) ServerOption {
	return func(s *Server) { s.defTTL, s.maxTTL = def, maxTTL }
}

// NewServer constructs a Server over the given engines.
func NewServer(store *platformdb.Store, engine *isolation.Engine, router *dbstore.Router, reflector *dbstore.Reflector, d *differ.Differ, tokens *token.Service, opts ...ServerOption) *Server {
	s := &Server{
		store:     store,
		engine:    engine,
		router:    router,
		reflector: reflector,
		differ:    d,
		tokens:    tokens,
		defTTL:    30 * time.Minute,
		maxTTL:    24 * time.Hour,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MountRoutes builds the chi router: standard middleware stack, then
// unauthenticated health endpoints, then the API-key-guarded platform routes.
func (s *Server) MountRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Group(func(pr chi.Router) {
		pr.Use(s.apiKeyMiddleware)

		pr.Get("/v1/templates", s.handleListTemplates)
		pr.Get("/v1/templates/{templateId}", s.handleGetTemplate)
		pr.Post("/v1/templates/from-environment", s.handleCreateTemplateFromEnv)

		pr.Post("/v1/environments", s.handleInitEnv)
		pr.Delete("/v1/environments/{envId}", s.handleDeleteEnv)

		pr.Get("/v1/test-suites", s.handleListTestSuites)
		pr.Get("/v1/test-suites/{suiteId}", s.handleGetTestSuite)
		pr.Post("/v1/test-suites", s.handleCreateTestSuite)
		pr.Post("/v1/test-suites/{suiteId}/tests", s.handleCreateTests)

		pr.Post("/v1/runs", s.handleStartRun)
		pr.Post("/v1/runs/{runId}/diff", s.handleDiffRun)
		pr.Post("/v1/runs/{runId}/evaluate", s.handleEvaluateRun)
		pr.Get("/v1/runs/{runId}", s.handleGetResults)
	})

	return r
}

// Start begins serving MountRoutes() on addr, blocking until Stop is called
// or the listener fails.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.MountRoutes()}
	s.log.Info("platform dispatcher listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// readyHandler reports not-ready if the metadata store can't be reached.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListTemplates(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
