// Package metrics provides Prometheus metrics for session operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the session SDK.
type Metrics struct {
	enabled bool

	// Refresh metrics
	refreshFlightsTotal  prometheus.Counter
	refreshWaitersTotal  prometheus.Counter
	refreshFailuresTotal *prometheus.CounterVec
	refreshDuration      prometheus.Histogram

	// Transport metrics
	unauthorizedTotal *prometheus.CounterVec
	retriesTotal      prometheus.Counter

	// Gate metrics
	gateTransitionsTotal *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	m.refreshFlightsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgdesk_session_refresh_flights_total",
		Help: "Total refresh calls issued to the auth server",
	})

	m.refreshWaitersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgdesk_session_refresh_waiters_total",
		Help: "Total callers coalesced onto an in-flight refresh",
	})

	m.refreshFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgdesk_session_refresh_failures_total",
		Help: "Total failed refresh attempts",
	}, []string{"reason"})

	m.refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pgdesk_session_refresh_duration_seconds",
		Help:    "Refresh call duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.unauthorizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgdesk_session_unauthorized_responses_total",
		Help: "Total 401 responses seen by the transport",
	}, []string{"class"})

	m.retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgdesk_session_request_retries_total",
		Help: "Total requests replayed after a refresh",
	})

	m.gateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgdesk_session_gate_transitions_total",
		Help: "Total session gate state transitions",
	}, []string{"state"})

	return m
}

// RefreshFlight records a refresh call issued to the server.
func (m *Metrics) RefreshFlight() {
	if m == nil || !m.enabled {
		return
	}
	m.refreshFlightsTotal.Inc()
}

// RefreshWaiter records a caller coalesced onto an in-flight refresh.
func (m *Metrics) RefreshWaiter() {
	if m == nil || !m.enabled {
		return
	}
	m.refreshWaitersTotal.Inc()
}

// RefreshFailure records a failed refresh attempt with its reason.
func (m *Metrics) RefreshFailure(reason string) {
	if m == nil || !m.enabled {
		return
	}
	m.refreshFailuresTotal.WithLabelValues(reason).Inc()
}

// RefreshSeconds records how long a refresh call took.
func (m *Metrics) RefreshSeconds(seconds float64) {
	if m == nil || !m.enabled {
		return
	}
	m.refreshDuration.Observe(seconds)
}

// Unauthorized records a 401 with its classification ("expired" or "invalid").
func (m *Metrics) Unauthorized(class string) {
	if m == nil || !m.enabled {
		return
	}
	m.unauthorizedTotal.WithLabelValues(class).Inc()
}

// Retry records a request replayed after a successful refresh.
func (m *Metrics) Retry() {
	if m == nil || !m.enabled {
		return
	}
	m.retriesTotal.Inc()
}

// GateTransition records a session gate state change ("visible" or "hidden").
func (m *Metrics) GateTransition(state string) {
	if m == nil || !m.enabled {
		return
	}
	m.gateTransitionsTotal.WithLabelValues(state).Inc()
}
