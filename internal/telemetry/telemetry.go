// Package telemetry provides Prometheus metrics and tracing for the leadflow service.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/leadflow/internal/circuitbreaker"
)

const serviceName = "leadflow"

// Metrics holds all leadflow Prometheus metrics
type Metrics struct {
	// Pipeline metrics
	JobsQueued    prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobDuration   prometheus.Histogram

	// Enrichment metrics
	EnrichmentFallbacks *prometheus.CounterVec

	// DLQ metrics
	DLQDepth    prometheus.Gauge
	DLQEnqueued *prometheus.CounterVec
	DLQReplayed prometheus.Counter

	// Resilience metrics
	BreakerState  *prometheus.GaugeVec
	RetryAttempts *prometheus.CounterVec

	// Claim metrics
	ClaimAttempts *prometheus.CounterVec
}

// Provider wraps telemetry providers
type Provider struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewProvider initializes telemetry with Prometheus metrics
func NewProvider() *Provider {
	return &Provider{
		Tracer:  otel.Tracer(serviceName),
		Metrics: initMetrics(),
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBreaker records a breaker state transition as a gauge
// (0 closed, 1 open, 2 half-open)
func (m *Metrics) ObserveBreaker(name string, state circuitbreaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

func initMetrics() *Metrics {
	return &Metrics{
		JobsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_jobs_queued_total",
			Help: "Background jobs accepted for processing",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_jobs_completed_total",
			Help: "Background jobs that reached the completed state",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_jobs_failed_total",
			Help: "Background jobs that reached the failed state",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadflow_job_duration_seconds",
			Help:    "End-to-end pipeline duration per job",
			Buckets: prometheus.DefBuckets,
		}),
		EnrichmentFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_enrichment_fallbacks_total",
			Help: "Enrichment calls that degraded to their documented default",
		}, []string{"source"}),
		DLQDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "leadflow_dlq_depth",
			Help: "Dead-letter events currently resident",
		}),
		DLQEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_dlq_enqueued_total",
			Help: "Dead-letter events captured, by failure type",
		}, []string{"type"}),
		DLQReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_dlq_replayed_total",
			Help: "Dead-letter events re-queued through the pipeline",
		}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leadflow_circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
		}, []string{"dependency"}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_retry_attempts_total",
			Help: "Retry sleeps taken per dependency",
		}, []string{"dependency"}),
		ClaimAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_claim_attempts_total",
			Help: "Claim attempts by outcome",
		}, []string{"outcome"}),
	}
}
