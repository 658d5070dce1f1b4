package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	indexFetches  *prometheus.CounterVec
	ratesIngested *prometheus.CounterVec
	ytwOutcomes   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastRate      *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
}

// New registers the collectors on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		indexFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bondyield_index_fetches_total",
				Help: "Index value lookups by code and result",
			},
			[]string{"code", "result"},
		),
		ratesIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bondyield_index_rates_ingested_total",
				Help: "Index fixings written to a backend",
			},
			[]string{"backend", "code"},
		),
		ytwOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bondyield_ytw_total",
				Help: "YTW computations by outcome (value, none, error)",
			},
			[]string{"outcome"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bondyield_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastRate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bondyield_index_last_rate",
				Help: "Last observed fixing for an index code",
			},
			[]string{"code"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bondyield_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bondyield_index_cache_lookups_total",
				Help: "Index cache reads by the layer that served them (l1, l2, miss)",
			},
			[]string{"result"},
		),
	}
}

func (r *Recorder) RecordIndexFetch(code string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.indexFetches.WithLabelValues(code, result).Inc()
}

func (r *Recorder) RecordRateIngested(backend, code string) {
	r.ratesIngested.WithLabelValues(backend, code).Inc()
}

func (r *Recorder) RecordYtw(outcome string) {
	r.ytwOutcomes.WithLabelValues(outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastRate(code string, rate float64) {
	r.lastRate.WithLabelValues(code).Set(rate)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordCacheLookup satisfies cache.LookupRecorder.
func (r *Recorder) RecordCacheLookup(result string) {
	r.cacheLookups.WithLabelValues(result).Inc()
}
