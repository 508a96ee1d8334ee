package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outbound calls to Graph, S3, SNS and Nutshell.
var (
	IntegrationRequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_requests_total",
			Help:      "Total number of calls to external services",
		},
		[]string{"integration", "operation", "result"}, // result: success|error
	)

	IntegrationLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "integration_latency_seconds",
			Help:      "Latency of calls to external services in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"integration", "operation"},
	)
)

// ObserveIntegration records one outbound call. Use with defer:
//
//	start := time.Now()
//	defer func() { metrics.ObserveIntegration("s3", "put_object", start, err) }()
func ObserveIntegration(integration, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	IntegrationRequestsTotal.WithLabelValues(integration, operation, result).Inc()
	IntegrationLatency.WithLabelValues(integration, operation).Observe(time.Since(start).Seconds())
}
