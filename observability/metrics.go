package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service's prometheus registry. Bridge operations and the
// HTTP surface record into the same registry, exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec

	BridgeOps         *prometheus.CounterVec
	CoinsMoved        *prometheus.CounterVec
	IntegrityFailures prometheus.Counter
	SettledRecords    prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bridge"
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"route", "method", "status"}),
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		BridgeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Bridge operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		CoinsMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coins_moved_total",
			Help:      "Game coins moved through the ledger by direction.",
		}, []string{"direction"}),
		IntegrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failures_total",
			Help:      "Verification-code or signer self-check failures.",
		}),
		SettledRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_records_total",
			Help:      "Pending exchange records presumed settled by the janitor.",
		}),
	}
	registry.MustRegister(m.Requests, m.Durations, m.BridgeOps, m.CoinsMoved, m.IntegrityFailures, m.SettledRecords)
	return m
}

// ObserveRequest records one handled HTTP request. Nil-safe.
func (m *Metrics) ObserveRequest(route, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, status).Inc()
	m.Durations.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObserveOp is a nil-safe helper for the engine.
func (m *Metrics) ObserveOp(operation, outcome string) {
	if m == nil {
		return
	}
	m.BridgeOps.WithLabelValues(operation, outcome).Inc()
}

// ObserveCoins is a nil-safe helper for ledger movement counters.
func (m *Metrics) ObserveCoins(direction string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.CoinsMoved.WithLabelValues(direction).Add(float64(amount))
}

// IntegrityFailure is a nil-safe counter bump.
func (m *Metrics) IntegrityFailure() {
	if m == nil {
		return
	}
	m.IntegrityFailures.Inc()
}

// Settled is a nil-safe counter bump for the janitor.
func (m *Metrics) Settled() {
	if m == nil {
		return
	}
	m.SettledRecords.Inc()
}

// Handler serves the registry, for mounting on /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
