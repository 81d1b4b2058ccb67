// Package metrics provides Prometheus instrumentation for the API gateway.
// A single Metrics value is created at startup with NewMetrics and handed to
// every component that records samples; the /metrics endpoint is served by
// Handler.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName is the value of the service label on inbound HTTP metrics.
const ServiceName = "api-gateway"

// Call outcome label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Auth outcome label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds every collector the gateway records into.
type Metrics struct {
	// GRPCClientDuration observes outbound call latency by target, method and outcome.
	GRPCClientDuration *prometheus.HistogramVec
	// GRPCClientRequests counts outbound calls by target, method and outcome.
	GRPCClientRequests *prometheus.CounterVec

	// Errors counts error responses by classification, origin and HTTP status.
	Errors *prometheus.CounterVec
	// AuthAttempts counts authentication operations by result.
	AuthAttempts *prometheus.CounterVec

	HTTPRequestDuration *prometheus.HistogramVec
	HTTPActiveRequests  *prometheus.GaugeVec
	HTTPRequests        *prometheus.CounterVec

	RateLimitHits *prometheus.CounterVec

	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. Tests pass
// a fresh prometheus.NewRegistry() to stay isolated from each other.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GRPCClientDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grpc_client_duration_seconds",
				Help:    "Duration of outbound gRPC calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"target_service", "method", "status"},
		),
		GRPCClientRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grpc_client_requests_total",
				Help: "Total outbound gRPC calls",
			},
			[]string{"target_service", "method", "status"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total error responses by type and source",
			},
			[]string{"error_type", "source", "status_code"},
		),
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Total authentication attempts",
			},
			[]string{"operation", "result"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of inbound HTTP requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "route", "status_code"},
		),
		HTTPActiveRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_active_requests",
				Help: "Number of in-flight HTTP requests",
			},
			[]string{"service"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total inbound HTTP requests",
			},
			[]string{"service", "method", "route", "status_code"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_hits_total",
				Help: "Total rate limit rejections",
			},
			[]string{"route"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_breaker_state",
				Help: "Circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
			},
			[]string{"target_service"},
		),
		CircuitBreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_transitions_total",
				Help: "Total circuit breaker state transitions",
			},
			[]string{"target_service", "from", "to"},
		),
	}

	reg.MustRegister(
		m.GRPCClientDuration,
		m.GRPCClientRequests,
		m.Errors,
		m.AuthAttempts,
		m.HTTPRequestDuration,
		m.HTTPActiveRequests,
		m.HTTPRequests,
		m.RateLimitHits,
		m.CircuitBreakerState,
		m.CircuitBreakerTransitions,
	)
	return m
}

// RecordError counts one error response.
func (m *Metrics) RecordError(errorType, source string, statusCode int) {
	m.Errors.WithLabelValues(errorType, source, strconv.Itoa(statusCode)).Inc()
}

// RecordAuth counts one authentication attempt for operation.
func (m *Metrics) RecordAuth(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.AuthAttempts.WithLabelValues(operation, result).Inc()
}

// Handler returns an http.Handler that serves the metrics gathered by g in
// the Prometheus text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
