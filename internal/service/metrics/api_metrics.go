package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bondyield",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of YTW and index endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bondyield",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by endpoint",
		},
		[]string{"endpoint"},
	)
)

// Register adds the endpoint collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors)
	})
}

// Observe records the latency of one endpoint call and counts it as an error if failed.
func Observe(endpoint string, start time.Time, failed bool) {
	APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if failed {
		APIErrors.WithLabelValues(endpoint).Inc()
	}
}
