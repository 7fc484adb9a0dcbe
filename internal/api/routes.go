package api

import (
	"net/http"
	"switchbox/internal/health"
	"switchbox/internal/observability"
	"switchbox/internal/params"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService     JobService
	Params         *params.Set
	Metrics        *observability.Metrics
	HealthChecker  *health.Checker
	Version        string
	APIKey         string
	AllowedOrigins []string // defaults to any origin
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.Params, cfg.HealthChecker, cfg.Version)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Public API consumed by the UI
	handleExact(mux, "GET /api/healthz", http.HandlerFunc(handler.Healthz))
	handleExact(mux, "GET /api/params", http.HandlerFunc(handler.Params))

	// Job endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	handleExact(mux, "GET /api/job", authMiddleware(http.HandlerFunc(handler.ListJobs)))
	handleExact(mux, "POST /api/job", authMiddleware(http.HandlerFunc(handler.CreateJob)))
	mux.Handle("GET /api/job/{jobId}", authMiddleware(http.HandlerFunc(handler.GetJob)))
	mux.Handle("DELETE /api/job/{jobId}", authMiddleware(http.HandlerFunc(handler.DeleteJob)))
	mux.Handle("POST /api/job/{jobId}/stop", authMiddleware(http.HandlerFunc(handler.StopJob)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware(cfg.AllowedOrigins)(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}

// handleExact registers pattern both with and without a trailing slash.
func handleExact(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, h)
	mux.Handle(pattern+"/{$}", h)
}
