// Package server provides the HTTP status API for the harvester.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/ratelimit"
)

// QuotaSource reports current quota usage per provider account.
type QuotaSource interface {
	Snapshot() []ratelimit.QuotaStatus
}

// Config holds server configuration.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DataDir string
	Quotas  QuotaSource
	// RunFunc triggers a pipeline run. It must return quickly; the
	// server invokes it from a goroutine.
	RunFunc func()
}

// Server is the HTTP status server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	systemHandlers *SystemHandlers
	statusHandlers *StatusHandlers
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DataDir),
		statusHandlers: NewStatusHandlers(cfg.Log, cfg.Quotas, cfg.RunFunc),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// StatusHandlers exposes the status handlers so the entry point can feed
// run reports into them.
func (s *Server) StatusHandlers() *StatusHandlers {
	return s.statusHandlers
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.statusHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.statusHandlers.HandleStatus)
		r.Get("/quotas", s.statusHandlers.HandleQuotas)
		r.Post("/run", s.statusHandlers.HandleTriggerRun)
		r.Get("/system", s.systemHandlers.HandleSystemStats)
		r.Get("/system/disk", s.systemHandlers.HandleDiskUsage)
	})
}

// Start begins listening. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
