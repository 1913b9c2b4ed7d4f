package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_requests_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// Auth metrics
	loginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"}, // success, invalid_credentials, locked
	)

	passwordUpgradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_password_upgrades_total",
			Help: "Total number of legacy password hashes upgraded on login",
		},
	)

	// Session metrics
	sessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	sessionsRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_revoked_total",
			Help: "Total number of sessions revoked by logout",
		},
	)

	sessionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_swept_total",
			Help: "Total number of expired sessions removed by the sweeper",
		},
	)

	errorResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_error_responses_total",
			Help: "Total number of 4xx/5xx responses by error code",
		},
		[]string{"code"},
	)

	// Rate limiting metrics
	lockoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_lockouts_total",
			Help: "Total number of lockout transitions",
		},
		[]string{"action"},
	)
)

// Init registers all collectors with the default registry.
func Init() error {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		loginAttemptsTotal,
		passwordUpgradesTotal,
		sessionsCreatedTotal,
		sessionsRevokedTotal,
		sessionsSweptTotal,
		errorResponsesTotal,
		lockoutsTotal,
	)

	return nil
}

// HTTPMetricsMiddleware records HTTP metrics
func HTTPMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		method := c.Method()
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)

		return err
	}
}

// RecordLoginAttempt records the outcome of one login attempt
func RecordLoginAttempt(result string) {
	loginAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordPasswordUpgrade records a legacy hash rewritten to the current format
func RecordPasswordUpgrade() {
	passwordUpgradesTotal.Inc()
}

// RecordSessionCreated records a new session grant
func RecordSessionCreated() {
	sessionsCreatedTotal.Inc()
}

// RecordSessionRevoked records a session removed by logout
func RecordSessionRevoked() {
	sessionsRevokedTotal.Inc()
}

// RecordSessionsSwept records expired sessions removed by the sweeper
func RecordSessionsSwept(count int) {
	if count > 0 {
		sessionsSweptTotal.Add(float64(count))
	}
}

// RecordErrorResponse records one error response by taxonomy code
func RecordErrorResponse(code string) {
	errorResponsesTotal.WithLabelValues(code).Inc()
}

// RecordLockout records a lockout transition for an action
func RecordLockout(action string) {
	lockoutsTotal.WithLabelValues(action).Inc()
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() fiber.Handler {
	promHandler := adaptor.HTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		return promHandler(c)
	}
}
