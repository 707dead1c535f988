package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics API.
type Metrics struct {
	// Dashboard metrics
	DashboardBuilds   *prometheus.CounterVec
	DashboardLatency  *prometheus.HistogramVec
	OrdersAttributed  *prometheus.CounterVec
	AttributedRevenue *prometheus.CounterVec
	JourneyEvents     prometheus.Histogram

	// Upstream metrics
	FetchErrors  *prometheus.CounterVec
	FetchLatency *prometheus.HistogramVec
	CacheLookups *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests  *prometheus.CounterVec
	HTTPLatency   *prometheus.HistogramVec
	RateLimitHits *prometheus.CounterVec

	// System metrics
	DBConnections    *prometheus.GaugeVec
	GeoLookupLatency *prometheus.HistogramVec

	registry prometheus.Gatherer
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	return &Metrics{
		DashboardBuilds: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dashboard_builds_total",
				Help:      "Analytics reports built, by report and outcome",
			},
			[]string{"report", "status"},
		),
		DashboardLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dashboard_build_duration_seconds",
				Help:      "Time to fetch and compute a report",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"report"},
		),
		OrdersAttributed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_attributed_total",
				Help:      "Orders classified, by match method",
			},
			[]string{"method"},
		),
		AttributedRevenue: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attributed_revenue_total",
				Help:      "Order revenue seen in reports, by attribution class",
			},
			[]string{"class"},
		),
		JourneyEvents: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "journey_events_per_report",
				Help:      "Journey events fed into a single report",
				Buckets:   []float64{0, 10, 50, 100, 150, 200, 250},
			},
		),
		FetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_fetch_errors_total",
				Help:      "Failed record fetches, by source",
			},
			[]string{"source"},
		),
		FetchLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_fetch_duration_seconds",
				Help:      "Record fetch latency, by source",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"source"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Report cache lookups, by result",
			},
			[]string{"result"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests, by path and status",
			},
			[]string{"path", "status"},
		),
		HTTPLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"path"},
		),
		DBConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "PostgreSQL pool connections",
			},
			[]string{"state"},
		),
		GeoLookupLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"cache_hit"},
		),
		registry: gatherer,
	}
}

// Handler returns the Prometheus HTTP handler for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordBuild records a finished report build.
func (m *Metrics) RecordBuild(report, status string, latency time.Duration) {
	m.DashboardBuilds.WithLabelValues(report, status).Inc()
	m.DashboardLatency.WithLabelValues(report).Observe(latency.Seconds())
}

// RecordAttribution records one classified order.
func (m *Metrics) RecordAttribution(method string, affiliate bool, revenue float64) {
	m.OrdersAttributed.WithLabelValues(method).Inc()
	class := "direct"
	if affiliate {
		class = "affiliate"
	}
	if revenue > 0 {
		m.AttributedRevenue.WithLabelValues(class).Add(revenue)
	}
}

// RecordJourneyBatch records the size of a journey event batch.
func (m *Metrics) RecordJourneyBatch(n int) {
	m.JourneyEvents.Observe(float64(n))
}

// RecordFetch records an upstream fetch.
func (m *Metrics) RecordFetch(source string, latency time.Duration, err error) {
	m.FetchLatency.WithLabelValues(source).Observe(latency.Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(source).Inc()
	}
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(path string, status int, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(path).Observe(latency.Seconds())
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(path string) {
	m.RateLimitHits.WithLabelValues(path).Inc()
}

// RecordGeoLookup records a geo lookup.
func (m *Metrics) RecordGeoLookup(cacheHit bool, latency time.Duration) {
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	m.GeoLookupLatency.WithLabelValues(hit).Observe(latency.Seconds())
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
