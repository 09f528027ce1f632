// Package api provides the HTTP surface of the scribo grading engine.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/diagnostics"
	"github.com/scribo-app/scribo/internal/service"
)

// CallerHeader carries the caller identity used for rate limiting.
const CallerHeader = "X-User-ID"

// Corrector grades a submission with a single model.
type Corrector interface {
	Correct(ctx context.Context, req service.CorrectRequest) (*core.Correction, error)
}

// DeepAnalyzer grades a submission with several models and compares them.
type DeepAnalyzer interface {
	Analyze(ctx context.Context, req service.AnalysisRequest) (*core.DeepAnalysisResult, error)
	Compare(ctx context.Context, req service.AnalysisRequest) (*core.AnalysisComparison, error)
	Health() core.DeepAnalysisHealth
}

// EnhancedAnalyzer runs the two-phase analysis.
type EnhancedAnalyzer interface {
	Analyze(ctx context.Context, req service.AnalysisRequest) (*core.EnhancedDeepAnalysisResult, error)
}

// HealthReporter reports model availability and cache connectivity.
type HealthReporter interface {
	Health(ctx context.Context, cache core.Cache) core.ServiceHealth
}

// UsageReporter aggregates the model call log.
type UsageReporter interface {
	UsageStats(ctx context.Context, since time.Time) ([]core.UsageStat, error)
}

// Services are the components the handlers call. Nil optional members
// disable their endpoints with 503.
type Services struct {
	Corrector Corrector
	Deep      DeepAnalyzer
	Enhanced  EnhancedAnalyzer
	Health    HealthReporter
	Limiters  *service.RateLimiterRegistry
	Usage     UsageReporter
	Essays    core.EssayStore
	Cache     core.Cache
}

// Server provides the HTTP endpoints.
type Server struct {
	router   chi.Router
	svc      Services
	logger   *slog.Logger
	metrics  *service.Metrics
	origins  []string
	timeout  time.Duration
	system   *diagnostics.SystemMetricsCollector
	resource *diagnostics.ResourceMonitor
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics exposes the collectors on /metrics.
func WithMetrics(m *service.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithCORSOrigins restricts cross-origin access. Empty allows any origin.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDiagnostics adds host and process figures to /api/v1/health.
func WithDiagnostics(system *diagnostics.SystemMetricsCollector, resource *diagnostics.ResourceMonitor) ServerOption {
	return func(s *Server) {
		s.system = system
		s.resource = resource
	}
}

// NewServer creates a new API server.
func NewServer(svc Services, opts ...ServerOption) *Server {
	s := &Server{
		svc:     svc,
		logger:  slog.Default(),
		timeout: 5 * time.Minute,
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

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", CallerHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleServiceHealth)

		r.Post("/corrections", s.handleCorrection)

		r.Route("/deep-analysis", func(r chi.Router) {
			r.Post("/", s.handleDeepAnalysis)
			r.Post("/compare", s.handleCompare)
			r.Get("/health", s.handleDeepHealth)
		})
		r.Post("/enhanced-deep-analysis", s.handleEnhancedAnalysis)

		r.Route("/essays/{essayID}", func(r chi.Router) {
			r.Post("/deep-analysis", s.handleEssayDeepAnalysis)
			r.Post("/enhanced-deep-analysis", s.handleEssayEnhancedAnalysis)
		})

		r.Get("/rate-limit/{policy}/{key}", s.handleRateLimitStatus)
		r.Get("/usage", s.handleUsage)
	})

	return r
}

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
				"request_id", middleware.GetReqID(r.Context()),
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
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done.
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
