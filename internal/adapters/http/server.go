// Package http provides the status server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/s2mosaic/internal/adapters/metrics"
	"github.com/jobrunner/s2mosaic/internal/config"
	"github.com/jobrunner/s2mosaic/internal/ports/input"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// Server exposes batch progress, health and metrics over HTTP.
type Server struct {
	server      *http.Server
	router      *mux.Router
	health      input.HealthChecker
	progress    input.ProgressReporter
	ledger      output.LedgerStore
	metrics     *metrics.Collector
	metricsPath string
	logger      *slog.Logger
	config      config.ServerConfig
}

// NewServer creates a new status server. ledger and collector may be nil.
func NewServer(
	cfg config.ServerConfig,
	health input.HealthChecker,
	progress input.ProgressReporter,
	ledger output.LedgerStore,
	collector *metrics.Collector,
	metricsPath string,
	logger *slog.Logger,
) *Server {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	s := &Server{
		health:      health,
		progress:    progress,
		ledger:      ledger,
		metrics:     collector,
		metricsPath: metricsPath,
		logger:      logger,
		config:      cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/batch", s.handleBatch).Methods(http.MethodGet)

	// Batch history (only if the ledger is enabled)
	if s.ledger != nil {
		api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
		api.HandleFunc("/runs/{runId}", s.handleGetRun).Methods(http.MethodGet)
	}

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting status server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
