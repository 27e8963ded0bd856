package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC activity per module and method.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "slotmarket",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "slotmarket",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "slotmarket",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "slotmarket",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a JSON-RPC call. A zero code means success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// MarketMetrics tracks ledger transitions and their outcomes.
type MarketMetrics struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	escrows     *prometheus.GaugeVec
	settled     *prometheus.CounterVec
}

// Market returns the lazily-initialised market metrics registry.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "slotmarket",
				Subsystem: "ledger",
				Name:      "transitions_total",
				Help:      "Ledger calls segmented by operation and error class.",
			}, []string{"operation", "class"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "slotmarket",
				Subsystem: "ledger",
				Name:      "transition_duration_seconds",
				Help:      "Time spent holding the ledger lock per operation.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			}, []string{"operation"}),
			escrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "slotmarket",
				Subsystem: "escrow",
				Name:      "open",
				Help:      "Escrows opened minus escrows settled since process start.",
			}, []string{"group"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "slotmarket",
				Subsystem: "escrow",
				Name:      "settled_total",
				Help:      "Escrow settlements segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			marketRegistry.transitions,
			marketRegistry.duration,
			marketRegistry.escrows,
			marketRegistry.settled,
		)
	})
	return marketRegistry
}

// ObserveTransition records one ledger call. Class is "ok" for committed calls.
func (m *MarketMetrics) ObserveTransition(operation, class string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	m.transitions.WithLabelValues(operation, class).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// EscrowOpened increments the open escrow gauge for the group label.
func (m *MarketMetrics) EscrowOpened(group string) {
	if m == nil {
		return
	}
	m.escrows.WithLabelValues(group).Inc()
}

// EscrowSettled decrements the open gauge and counts the outcome.
func (m *MarketMetrics) EscrowSettled(group, outcome string) {
	if m == nil {
		return
	}
	m.escrows.WithLabelValues(group).Dec()
	m.settled.WithLabelValues(outcome).Inc()
}
