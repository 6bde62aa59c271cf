package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/rules"
)

// Dependencies are the components served by the API. Repo, Cache and Bus
// are optional.
type Dependencies struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Pipeline *pipeline.Pipeline
	Registry *rules.Registry
	Tracing  domain.TracingConfig
	Version  string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORS)
	router.Use(Recover)
	router.Use(Tracing(deps.Tracing))
	router.Use(AccessLog)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health checks (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/v1", func(r chi.Router) {
		r.Use(RequireTenant)

		// Scoring
		r.Post("/score", handler.Score)
		r.Post("/score/batch", handler.ScoreBatch)
		r.Post("/rank", handler.Rank)

		// Refresh coordination
		r.Post("/triggers", handler.Trigger)
		r.Post("/cycle", handler.AdvanceCycle)
		r.Get("/entities/{entityID}/departments", handler.EntityDepartments)

		// Condition diagnostics
		r.Post("/evaluate", handler.Evaluate)

		// Rule table management
		r.Get("/tables", handler.ListTables)
		r.Get("/tables/{name}", handler.GetTable)
		r.Post("/tables", handler.CreateTable)
		r.Delete("/tables/{name}", handler.DeleteTable)
		r.Post("/tables/reload", handler.ReloadTables)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
