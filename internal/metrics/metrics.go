// Package metrics exposes Prometheus collectors for session gating and auth
// completion. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "inventory").
	Namespace string

	// Buckets are the histogram buckets for auth service calls.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "inventory",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the application collectors.
type Metrics struct {
	gateDecisions   *prometheus.CounterVec
	completions     *prometheus.CounterVec
	serviceDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
}

// New registers the collectors and returns them.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "gate_decisions_total",
			Help:      "Session gatekeeper decisions by path class and action",
		}, []string{"class", "action"}),

		completions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "auth_completions_total",
			Help:      "Auth completion outcomes by method",
		}, []string{"method", "outcome"}),

		serviceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "auth_service_duration_seconds",
			Help:      "Duration of calls to the external auth service",
			Buckets:   config.Buckets,
		}, []string{"operation", "result"}),

		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP rate limiter",
		}, []string{"route"}),
	}
}

// GateDecision records one gatekeeper decision.
func (m *Metrics) GateDecision(class, action string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(class, action).Inc()
}

// Completion records the outcome of one completion request.
func (m *Metrics) Completion(method, outcome string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(method, outcome).Inc()
}

// ServiceCall records the duration of one auth service operation.
func (m *Metrics) ServiceCall(operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.serviceDuration.WithLabelValues(operation, result).Observe(d.Seconds())
}

// RateLimited records a rejected request.
func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}
