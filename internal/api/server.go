// Package api provides the HTTP REST surface for submitting analyses and
// querying traces and stored reports.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/logging"
	"github.com/verdanthq/cropsense/internal/pipeline"
	"github.com/verdanthq/cropsense/internal/tables"
	"github.com/verdanthq/cropsense/internal/trace"
)

// Analyzer runs one diagnostic workflow. Satisfied by *pipeline.Pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, req *core.AnalysisRequest, obs pipeline.Observer) *core.AnalysisResponse
}

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	analyzer Analyzer
	registry *trace.Registry
	store    *trace.Store
	tables   *tables.Store
	logger   *logging.Logger
	timeout  time.Duration
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithAuditStore enables report persistence and the listing endpoints.
func WithAuditStore(store *trace.Store) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer creates the API server.
func NewServer(analyzer Analyzer, registry *trace.Registry, tbl *tables.Store, logger *logging.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		analyzer: analyzer,
		registry: registry,
		tables:   tbl,
		logger:   logger,
		timeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", "X-Image-Source"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", s.handleCreateAnalysis)
			r.Get("/", s.handleListAnalyses)
			r.Get("/{traceID}", s.handleGetAnalysis)
		})
		r.Get("/traces/{traceID}", s.handleGetTrace)
		r.Get("/conditions", s.handleListConditions)
	})

	return r
}

// loggingMiddleware logs HTTP requests through the sanitizing logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListConditions returns the canonical condition names the tables
// know about.
func (s *Server) handleListConditions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{
		"conditions": s.tables.Active().ConditionNames(),
	})
}

// handleGetTrace answers a live status query for a trace.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := core.TraceID(chi.URLParam(r, "traceID"))
	snap, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "trace not found")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ListenAndServe starts the HTTP server and shuts it down when the context
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
