package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Platform metrics
	TokenRefreshesTotal *prometheus.CounterVec
	TokenRefreshLatency prometheus.Histogram
	APICallsTotal       *prometheus.CounterVec
	APICallDuration     *prometheus.HistogramVec

	// Directory sync metrics
	SyncItemsTotal  *prometheus.CounterVec
	SyncRunsTotal   *prometheus.CounterVec
	SyncRunDuration prometheus.Histogram

	// Inbound events and outbound notifications
	WebhookEventsTotal *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	SSOLoginsTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larkbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "larkbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larkbridge_token_refreshes_total",
				Help: "Total number of service token exchanges",
			},
			[]string{"status"},
		),
		TokenRefreshLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "larkbridge_token_refresh_duration_seconds",
				Help:    "Service token exchange duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		APICallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larkbridge_api_calls_total",
				Help: "Total number of platform API calls",
			},
			[]string{"operation", "status", "code"},
		),
		APICallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "larkbridge_api_call_duration_seconds",
				Help:    "Platform API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		SyncItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larkbridge_sync_items_total",
				Help: "Directory items processed by outcome",
			},
			[]string{"category", "outcome"},
		),
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larkbridge_sync_runs_total",
				Help: "Directory sync runs by status",
			},
			[]string{"status"},
		),
		SyncRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "larkbridge_sync_run_duration_seconds",
				Help:    "Directory sync run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larkbridge_webhook_events_total",
				Help: "Inbound webhook events by outcome",
			},
			[]string{"outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larkbridge_notifications_total",
				Help: "Outbound notifications and approvals by kind and status",
			},
			[]string{"kind", "status"},
		),
		SSOLoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larkbridge_sso_logins_total",
				Help: "SSO logins by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokenRefreshesTotal,
		m.TokenRefreshLatency,
		m.APICallsTotal,
		m.APICallDuration,
		m.SyncItemsTotal,
		m.SyncRunsTotal,
		m.SyncRunDuration,
		m.WebhookEventsTotal,
		m.NotificationsTotal,
		m.SSOLoginsTotal,
	)

	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordTokenRefresh records one service token exchange
func (m *Metrics) RecordTokenRefresh(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.TokenRefreshesTotal.WithLabelValues(statusLabel(err)).Inc()
	m.TokenRefreshLatency.Observe(duration.Seconds())
}

// RecordAPICall records one platform call; code is the envelope code (0 on success)
func (m *Metrics) RecordAPICall(operation string, code int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.APICallsTotal.WithLabelValues(operation, statusLabel(err), strconv.Itoa(code)).Inc()
	m.APICallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSyncItem records the outcome (created, updated, skipped, failed) of one directory item
func (m *Metrics) RecordSyncItem(category, outcome string) {
	if m == nil {
		return
	}
	m.SyncItemsTotal.WithLabelValues(category, outcome).Inc()
}

// RecordSyncRun records a finished sync run
func (m *Metrics) RecordSyncRun(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(statusLabel(err)).Inc()
	m.SyncRunDuration.Observe(duration.Seconds())
}

// RecordWebhookEvent records how an inbound event was handled
func (m *Metrics) RecordWebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification records an outbound message or approval call
func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}

// RecordSSOLogin records an SSO login outcome
func (m *Metrics) RecordSSOLogin(outcome string) {
	if m == nil {
		return
	}
	m.SSOLoginsTotal.WithLabelValues(outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelled by route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
