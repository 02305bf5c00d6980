package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Server is the Kestrel HTTP API.
type Server struct {
	router *chi.Mux
	server *http.Server
	config domain.ServerConfig
}

// NewServer builds the router over deps. The server does not listen until
// Start.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: routes(NewHandler(deps, cfg.MaxBodyBytes)),
		config: cfg,
	}
}

func routes(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Tenant precedes logging so the log line carries it.
	r.Use(CORSMiddleware)
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(TenantMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/score", h.Score)
	r.Post("/score/async", h.ScoreAsync)
	r.Get("/scores/{id}", h.GetScore)
	r.Get("/messages/{id}", h.GetMessage)

	r.Get("/normalizer", h.GetNormalizer)
	r.Post("/normalizer/reload", h.ReloadNormalizer)

	return r
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the routes without a listener.
func (s *Server) Router() http.Handler {
	return s.router
}
