package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Marqo client Prometheus metrics.
var (
	MarqoRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marqo_haystack",
			Subsystem: "marqo",
			Name:      "requests_total",
			Help:      "Total number of requests sent to Marqo",
		},
		[]string{"operation", "status"},
	)

	MarqoRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marqo_haystack",
			Subsystem: "marqo",
			Name:      "request_duration_seconds",
			Help:      "Marqo request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	MarqoDocumentsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marqo_haystack",
			Subsystem: "marqo",
			Name:      "documents_written_total",
			Help:      "Documents sent to Marqo by item status",
		},
		[]string{"result"}, // "ok" / "error"
	)
)

var registerClientOnce sync.Once

// RegisterClientMetrics registers the Marqo client metrics on the default
// registerer. Safe to call more than once.
func RegisterClientMetrics() {
	registerClientOnce.Do(func() {
		prometheus.MustRegister(MarqoRequestsTotal)
		prometheus.MustRegister(MarqoRequestDuration)
		prometheus.MustRegister(MarqoDocumentsWrittenTotal)
	})
}
