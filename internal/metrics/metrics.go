// Package metrics exposes the gateway's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	solveOutcomes       *prometheus.CounterVec
	providerDuration    *prometheus.HistogramVec
	tokens              prometheus.Counter
	costMicros          prometheus.Counter
	persistenceFailures prometheus.Counter
	cacheDegraded       *prometheus.CounterVec
	rateLimited         *prometheus.CounterVec
}

// New registers every instrument on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solvegate_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solvegate_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		solveOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solvegate_solve_outcomes_total",
			Help: "Solve requests by outcome.",
		}, []string{"outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solvegate_provider_call_duration_seconds",
			Help:    "Completion provider latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider", "result"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solvegate_tokens_total",
			Help: "Tokens consumed by successful provider calls.",
		}),
		costMicros: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solvegate_cost_micro_usd_total",
			Help: "Cost of successful provider calls in micro-USD.",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solvegate_persistence_failures_total",
			Help: "Provider successes whose record could not be stored.",
		}),
		cacheDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solvegate_cache_degraded_total",
			Help: "Counter cache operations that failed and were skipped.",
		}, []string{"op"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solvegate_rate_limited_total",
			Help: "Requests rejected by the per-address rate limiter.",
		}, []string{"limiter"}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.solveOutcomes,
		m.providerDuration,
		m.tokens,
		m.costMicros,
		m.persistenceFailures,
		m.cacheDegraded,
		m.rateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) SolveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.solveOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveProvider(provider string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.providerDuration.WithLabelValues(provider, result).Observe(d.Seconds())
}

func (m *Metrics) AddUsage(tokens int, costMicros int64) {
	if m == nil {
		return
	}
	m.tokens.Add(float64(tokens))
	m.costMicros.Add(float64(costMicros))
}

func (m *Metrics) PersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Metrics) CacheDegraded(op string) {
	if m == nil {
		return
	}
	m.cacheDegraded.WithLabelValues(op).Inc()
}

func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limiter).Inc()
}
