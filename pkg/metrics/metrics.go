// Package metrics defines the Prometheus collectors of the matcher service
// and serves them for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	MatchQueriesTotal  *prometheus.CounterVec
	MatchLatency       prometheus.Histogram
	MatchResultsCount  prometheus.Histogram
	RefitsTotal        *prometheus.CounterVec
	RefitDuration      prometheus.Histogram
	VocabularyTerms    prometheus.Gauge
	ActiveItems        *prometheus.GaugeVec
	CorpusChangesTotal *prometheus.CounterVec

	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	AlertsPublishedTotal *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New registers every collector with reg and panics on duplicates. Tests
// pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	const matcher = "matcher"
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),

		MatchQueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: matcher,
			Name:      "queries_total",
			Help:      "Match queries by result (ok, not_found, error).",
		}, []string{"result"}),
		MatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Subsystem: matcher,
			Name:      "query_latency_seconds",
			Help:      "Match query latency, including any lazy refit.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.5, 10),
		}),
		MatchResultsCount: f.NewHistogram(prometheus.HistogramOpts{
			Subsystem: matcher,
			Name:      "results_count",
			Help:      "Candidates returned per match query.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		}),
		RefitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: matcher,
			Name:      "refits_total",
			Help:      "Vocabulary refits by status (ok, error).",
		}, []string{"status"}),
		RefitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Subsystem: matcher,
			Name:      "refit_duration_seconds",
			Help:      "Time spent loading the corpus and refitting the model.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 3, 9),
		}),
		VocabularyTerms: f.NewGauge(prometheus.GaugeOpts{
			Subsystem: matcher,
			Name:      "vocabulary_terms",
			Help:      "Terms in the fitted vocabulary.",
		}),
		ActiveItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: matcher,
			Name:      "active_items",
			Help:      "Active items in the fitted corpus by type.",
		}, []string{"type"}),
		CorpusChangesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: matcher,
			Name:      "corpus_changes_total",
			Help:      "Item change notifications by kind (changed, removed).",
		}, []string{"kind"}),

		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Subsystem: matcher,
			Name:      "cache_hits_total",
			Help:      "Match results served from the cache.",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Subsystem: matcher,
			Name:      "cache_misses_total",
			Help:      "Match lookups that had to be ranked.",
		}),
		AlertsPublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: matcher,
			Name:      "alerts_published_total",
			Help:      "Match alerts by status (published, failed, dropped).",
		}, []string{"status"}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),
	}
}
