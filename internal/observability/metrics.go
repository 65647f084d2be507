package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	GenerationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_attempts_total",
			Help: "Total number of block generation attempts by provider and outcome",
		},
		[]string{"provider", "block", "outcome"},
	)
	BlocksSalvagedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blocks_salvaged_total",
			Help: "Total number of blocks produced by the salvage pass",
		},
		[]string{"provider", "block"},
	)
	ArticlesGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "articles_generated_total",
			Help: "Total number of article generation runs by result",
		},
		[]string{"result"},
	)
	RateLimitDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Total number of denied rate limit permits by provider",
		},
		[]string{"provider"},
	)
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"operation", "to"},
	)
	CredentialQuarantinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_quarantines_total",
			Help: "Total number of credentials quarantined by provider",
		},
		[]string{"provider"},
	)
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of pipeline runs by result",
		},
		[]string{"result"},
	)
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of upstream provider HTTP requests by status class",
		},
		[]string{"provider", "status"},
	)
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Upstream provider HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all metrics with the default registry. Safe to call
// from every entry point.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			GenerationAttemptsTotal,
			BlocksSalvagedTotal,
			ArticlesGeneratedTotal,
			RateLimitDenialsTotal,
			BreakerTransitionsTotal,
			CredentialQuarantinesTotal,
			PipelineRunsTotal,
			ProviderRequestsTotal,
			ProviderRequestDuration,
		)
	})
}
