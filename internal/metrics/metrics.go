// Package metrics holds the Prometheus collectors for the gateway and the
// client. Record functions register collectors on first use, so callers
// never need to call RegisterMetrics explicitly.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swarmproxy"

var (
	registerOnce sync.Once

	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Gate validation decisions by service type and outcome.",
		},
		[]string{"service", "outcome"},
	)
	gateExecutions = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "execution_duration_seconds",
			Help:      "Duration of whitelisted commands executed by the gate.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"service", "exit_code"},
	)

	poolAcquires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquires_total",
			Help:      "Session acquisitions by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)
	poolWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_duration_seconds",
			Help:      "Time spent acquiring a session, including dialing and waiting for a slot.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	poolSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "sessions",
			Help:      "Open sessions by endpoint and state.",
		},
		[]string{"endpoint", "state"},
	)

	discoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "discoveries_total",
			Help:      "Registry discoveries by service and result.",
		},
		[]string{"service", "result"},
	)
	endpointOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "endpoint_outcomes_total",
			Help:      "Health signals reported against endpoints.",
		},
		[]string{"endpoint", "outcome"},
	)
	evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "evictions_total",
			Help:      "Cache entries evicted after reaching the error threshold.",
		},
		[]string{"service"},
	)

	runAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "attempts_total",
			Help:      "Remote command attempts by service and result.",
		},
		[]string{"service", "result"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "End-to-end Run duration including retries.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"service", "result"},
	)

	httpRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "http_request_duration_seconds",
			Help:      "Admin HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RegisterMetrics registers all collectors with the default registry. It is
// safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			gateDecisions, gateExecutions,
			poolAcquires, poolWait, poolSessions,
			discoveries, endpointOutcomes, evictions,
			runAttempts, runDuration,
			httpRequests,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// RecordGateDecision counts a validation outcome ("allowed" or a rejection kind).
func RecordGateDecision(service, outcome string) {
	RegisterMetrics()
	gateDecisions.WithLabelValues(service, outcome).Inc()
}

// RecordGateExecution observes a finished local execution.
func RecordGateExecution(service string, exitCode int, duration time.Duration) {
	RegisterMetrics()
	gateExecutions.WithLabelValues(service, strconv.Itoa(exitCode)).Observe(duration.Seconds())
}

// RecordPoolAcquire counts an acquire attempt. result is one of "reused",
// "dialed", "exhausted", "failed" or "canceled".
func RecordPoolAcquire(endpoint, result string, duration time.Duration) {
	RegisterMetrics()
	poolAcquires.WithLabelValues(endpoint, result).Inc()
	poolWait.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetPoolSessions publishes the in-use and idle session counts for an endpoint.
func SetPoolSessions(endpoint string, inUse, idle int) {
	RegisterMetrics()
	poolSessions.WithLabelValues(endpoint, "in_use").Set(float64(inUse))
	poolSessions.WithLabelValues(endpoint, "idle").Set(float64(idle))
}

// RecordDiscovery counts a registry discovery. result is "found",
// "unreachable" or "error".
func RecordDiscovery(service, result string) {
	RegisterMetrics()
	discoveries.WithLabelValues(service, result).Inc()
}

// RecordEndpointOutcome counts a health signal for an endpoint.
func RecordEndpointOutcome(endpoint, outcome string) {
	RegisterMetrics()
	endpointOutcomes.WithLabelValues(endpoint, outcome).Inc()
}

// RecordEviction counts a circuit-breaking eviction.
func RecordEviction(service string) {
	RegisterMetrics()
	evictions.WithLabelValues(service).Inc()
}

// RecordRunAttempt counts one attempt inside Run.
func RecordRunAttempt(service, result string) {
	RegisterMetrics()
	runAttempts.WithLabelValues(service, result).Inc()
}

// RecordRun observes a finished Run call.
func RecordRun(service, result string, duration time.Duration) {
	RegisterMetrics()
	runDuration.WithLabelValues(service, result).Observe(duration.Seconds())
}

// RecordHTTPRequest observes one admin HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}
