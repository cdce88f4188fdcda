// Package telemetry exposes Prometheus instrumentation for the launch
// lifecycle and outbound FHIR traffic.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartvitals"

// Outcome labels for token grant counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds every collector the application records. A nil *Metrics is
// valid and records nothing, so tests can leave instrumentation unwired.
type Metrics struct {
	registry *prometheus.Registry

	launches         prometheus.Counter
	stateTransitions *prometheus.CounterVec
	tokenExchanges   *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	fhirRequests     *prometheus.CounterVec
	fhirLatency      *prometheus.HistogramVec
}

// New builds a Metrics set on its own registry, including the standard Go
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		launches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "EHR launches started.",
		}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Launch state machine transitions by destination state.",
		}, []string{"state"}),
		tokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "Authorization code exchanges by outcome.",
		}, []string{"outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh token grants by outcome.",
		}, []string{"outcome"}),
		fhirRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fhir_requests_total",
			Help:      "Outbound FHIR requests by resource, method and status code.",
		}, []string{"resource", "method", "code"}),
		fhirLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fhir_request_duration_seconds",
			Help:      "Outbound FHIR request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.launches,
		m.stateTransitions,
		m.tokenExchanges,
		m.tokenRefreshes,
		m.fhirRequests,
		m.fhirLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LaunchStarted counts a new EHR launch entering the flow.
func (m *Metrics) LaunchStarted() {
	if m == nil {
		return
	}
	m.launches.Inc()
}

// StateTransition counts the machine entering the named state.
func (m *Metrics) StateTransition(state string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(state).Inc()
}

// TokenExchange counts an authorization code exchange.
func (m *Metrics) TokenExchange(outcome string) {
	if m == nil {
		return
	}
	m.tokenExchanges.WithLabelValues(outcome).Inc()
}

// TokenRefresh counts a refresh grant.
func (m *Metrics) TokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// FHIRRequest records one outbound FHIR call.
func (m *Metrics) FHIRRequest(resource, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fhirRequests.WithLabelValues(resource, method, strconv.Itoa(status)).Inc()
	m.fhirLatency.WithLabelValues(resource, method).Observe(elapsed.Seconds())
}
