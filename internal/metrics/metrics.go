// Package metrics provides application-level metrics collection backed by
// Prometheus collectors on a private registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

const namespace = "tessera"

// Outcome labels shared by the counters.
const (
	OutcomeSuccess   = "success"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Metrics holds the Prometheus collectors for RPC, signing, and auth flows.
type Metrics struct {
	registry *prometheus.Registry

	rpcCalls   *prometheus.CounterVec
	rpcErrors  *prometheus.CounterVec
	rpcLatency *prometheus.HistogramVec
	rpcRetries *prometheus.CounterVec

	signOps   *prometheus.CounterVec
	authFlows *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
}

// Global is the process-wide metrics instance.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = New()

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of Solana JSON-RPC calls.",
		}, []string{"method"}),
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "Total number of failed Solana JSON-RPC calls by error code.",
		}, []string{"method", "code"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Duration of Solana JSON-RPC calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}, []string{"method"}),
		rpcRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "retries_total",
			Help:      "Total number of retried Solana JSON-RPC calls.",
		}, []string{"method"}),
		signOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "sign_operations_total",
			Help:      "Signing operations by backend and outcome.",
		}, []string{"backend", "outcome"}),
		authFlows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "flows_total",
			Help:      "Login and link flows by method and outcome.",
		}, []string{"method", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "fallbacks_total",
			Help:      "Fallback activations by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(m.rpcCalls, m.rpcErrors, m.rpcLatency, m.rpcRetries,
		m.signOps, m.authFlows, m.fallbacks)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRPCCall records an RPC call with its duration and outcome.
func (m *Metrics) RecordRPCCall(method string, duration time.Duration, err error) {
	m.rpcCalls.WithLabelValues(method).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
	if err != nil {
		m.rpcErrors.WithLabelValues(method, tserr.Code(err)).Inc()
	}
}

// RecordRPCRetry records a retry of an RPC method.
func (m *Metrics) RecordRPCRetry(method string) {
	m.rpcRetries.WithLabelValues(method).Inc()
}

// RecordSignOp records a signing operation for a backend ("embedded", "mwa", "deeplink").
func (m *Metrics) RecordSignOp(backend string, err error) {
	m.signOps.WithLabelValues(backend, outcome(err)).Inc()
}

// RecordAuthFlow records a login or link flow outcome.
func (m *Metrics) RecordAuthFlow(method string, err error) {
	m.authFlows.WithLabelValues(method, outcome(err)).Inc()
}

// RecordFallback records a fallback activation such as "two_step" or "deeplink".
func (m *Metrics) RecordFallback(kind string) {
	m.fallbacks.WithLabelValues(kind).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case tserr.IsCancelled(err):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
