// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer: it decides which URL maps to which
// handler, what middleware runs, and how the server starts and stops.
//
// DEPENDENCY INJECTION FLOW:
// main.go creates:
//   config → logger → sqlite.DB (schema + migration) → media.Store
//   → IdentityService / ReportService
// and hands them to server.New, which builds the handlers and routes.
// The database is opened and migrated before New is called, so a server
// never exists on top of an unmigrated schema.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sakif/envir-social/internal/config"
	"github.com/sakif/envir-social/internal/handler"
	"github.com/sakif/envir-social/internal/middleware"
)

// shutdownTimeout is how long in-flight requests get after a signal.
const shutdownTimeout = 30 * time.Second

// Deps are the long-lived collaborators built by main.
type Deps struct {
	DB       handler.Pinger
	Identity handler.IdentityService
	Reports  handler.ReportService

	// Registry receives the HTTP metrics and backs /metrics.
	// Nil means the process-wide default registry.
	Registry *prometheus.Registry
}

// Server represents the HTTP server and its routes.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *zap.Logger
}

// New builds the router. It does not listen; call Start.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(deps)
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                         → index.html
// GET    /static/*                 → frontend assets
// GET    /media/*                  → stored avatars and report photos
// POST   /auth/local, /auth/google → resolve caller to a user
// GET    /reports                  → every report, newest first
// POST   /reports                  → submit a report
// GET    /api/users/{id}           → one user
// GET    /api/users/{id}/reports   → that user's reports
// GET    /health                   → DB ping
// GET    /metrics                  → Prometheus scrape
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP run first so the logger and the rate limiter see
// the request id and the real client address. Recoverer sits inside the
// logger so a panic is logged as the 500 it becomes.
func (s *Server) setupRoutes(deps Deps) {
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		reg, gatherer = deps.Registry, deps.Registry
	}
	metrics := middleware.NewMetrics(reg)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(metrics.Handler)

	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	health := handler.NewHealthHandler(deps.DB, s.config.Static.Dir, s.logger)
	s.router.Get("/health", health.HandleHealth)
	s.router.Get("/", health.HandleIndex)

	// directories answer 404, never a listing
	staticFiles := http.FileServer(filesOnly{http.Dir(s.config.Static.Dir)})
	s.router.Handle("/static/*", http.StripPrefix("/static/", staticFiles))
	mediaFiles := http.FileServer(filesOnly{http.Dir(s.config.Media.Dir)})
	s.router.Handle("/media/*", http.StripPrefix("/media/", mediaFiles))

	identity := handler.NewIdentityHandler(deps.Identity, s.logger)
	reports := handler.NewReportHandler(deps.Reports, s.logger)

	// Writes are rate limited and size capped; reads are not.
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitPerIP(rate.Limit(s.config.HTTP.RateLimitRPS), s.config.HTTP.RateLimitBurst))
		r.Use(middleware.MaxBody(s.config.HTTP.MaxBodyMB << 20))

		r.Post("/auth/local", identity.HandleLogin)
		r.Post("/auth/google", identity.HandleLogin)
		r.Post("/reports", reports.HandleSubmit)
	})

	s.router.Get("/reports", reports.HandleList)
	s.router.Route("/api/users/{id}", func(r chi.Router) {
		r.Get("/", identity.HandleGetUser)
		r.Get("/reports", reports.HandleListByUser)
	})
}

// Start serves until ctx is cancelled (main wires it to SIGINT/SIGTERM),
// then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. stop accepting new connections
//  2. wait up to shutdownTimeout for in-flight requests
//
// Closing the database is main's job, after Start returns.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("database", s.config.DB.Path),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// gctx is done on a signal or when ListenAndServe failed
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
