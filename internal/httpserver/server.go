package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ipick/shop-analytics/internal/analytics"
	"github.com/ipick/shop-analytics/internal/config"
	"github.com/ipick/shop-analytics/internal/metrics"
	"github.com/ipick/shop-analytics/internal/middleware"
	"github.com/ipick/shop-analytics/internal/reporting"
)

// Reporter produces encoded report envelopes.
type Reporter interface {
	Dashboard(ctx context.Context, f analytics.Filters) ([]byte, error)
	AffiliateOrders(ctx context.Context, f analytics.Filters) ([]byte, error)
	Journeys(ctx context.Context, f analytics.Filters) ([]byte, error)
}

// HealthChecker is a dependency that can be pinged.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Reports     Reporter
	Checks      map[string]HealthChecker
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimitMiddleware
}

// Server wraps the analytics HTTP handlers.
type Server struct {
	reports Reporter
	checks  map[string]HealthChecker
	logger  *zap.Logger
	config  *config.Config
}

// NewServer constructs a new http.Handler with all routes and middleware registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		reports: deps.Reports,
		checks:  deps.Checks,
		logger:  deps.Logger,
		config:  deps.Config,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled && deps.Metrics != nil {
		mux.Handle(deps.Config.Metrics.Path, deps.Metrics.Handler())
	}

	// Reports
	mux.HandleFunc("/api/dashboard", s.reportHandler(s.reports.Dashboard))
	mux.HandleFunc("/api/affiliate-orders", s.reportHandler(s.reports.AffiliateOrders))
	mux.HandleFunc("/api/journeys", s.reportHandler(s.reports.Journeys))

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger)
		limiter.SetMetrics(deps.Metrics)
	}

	return middleware.Chain(mux,
		middleware.NewRecoveryMiddleware(deps.Logger).Handler,
		middleware.NewRequestIDMiddleware().Handler,
		middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics).Handler,
		limiter.Handler,
		middleware.NewAuthMiddleware(deps.Config.Auth, deps.Logger).Handler,
	)
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := s.checks[name].Health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "failed": failed})
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

// ---- Reports ----

type reportFunc func(ctx context.Context, f analytics.Filters) ([]byte, error)

func (s *Server) reportHandler(build reportFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		f, err := s.parseFilters(r)
		if err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if s.config.Server.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.Server.RequestTimeout)
			defer cancel()
		}

		body, err := build(ctx, f)
		switch {
		case err == nil:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
		case errors.Is(err, reporting.ErrNoShops):
			s.errorResponse(w, "no business found for domain", http.StatusNotFound)
		case errors.Is(err, reporting.ErrInvalidFilter):
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("report failed",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.RequestID(r.Context())),
				zap.Error(err),
			)
			s.errorResponse(w, "failed to load analytics data", http.StatusInternalServerError)
		}
	}
}

// parseFilters reads the report query parameters. Dates must be RFC 3339;
// the limit falls back to the configured default and is capped at the
// configured maximum.
func (s *Server) parseFilters(r *http.Request) (analytics.Filters, error) {
	q := r.URL.Query()
	f := analytics.Filters{
		BusinessDomain: strings.ToLower(strings.TrimSpace(q.Get("businessDomain"))),
		Limit:          s.config.Dashboard.DefaultLimit,
	}

	var start, end time.Time
	if v := strings.TrimSpace(q.Get("startDate")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("startDate must be an RFC 3339 timestamp")
		}
		start, f.StartDate = t, t.UTC().Format(time.RFC3339)
	}
	if v := strings.TrimSpace(q.Get("endDate")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("endDate must be an RFC 3339 timestamp")
		}
		end, f.EndDate = t, t.UTC().Format(time.RFC3339)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return f, errors.New("endDate must not be before startDate")
	}

	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, s.config.Dashboard.MaxLimit)
	}
	return f, nil
}

// ---- Helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(analytics.Fail(message))
}
