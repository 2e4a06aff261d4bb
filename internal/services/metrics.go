package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the task view and mutations.
// It implements taskview.Recorder.
type Metrics struct {
	// Cache metrics
	CacheLookups *prometheus.CounterVec
	CacheEntries prometheus.GaugeFunc

	// Fetch metrics
	FetchLatency  *prometheus.HistogramVec
	FetchErrors   prometheus.Counter
	FetchedItems  prometheus.Histogram
	OrphanedTasks prometheus.Counter

	// Mutation metrics
	Mutations     *prometheus.CounterVec
	Invalidations prometheus.Counter
}

// NewMetrics registers the task metrics with reg. cacheSize reports the current
// number of cache entries and may be nil.
func NewMetrics(reg prometheus.Registerer, cacheSize func() int) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Cache lookups by outcome (counter - only goes up)
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_cache_lookups_total",
			Help: "Total number of task cache lookups by result",
		}, []string{"result"}), // result: "hit" or "miss"

		// Fetch latency by query complexity
		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskhub_fetch_duration_seconds",
			Help:    "Task fetch latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"complexity"}),

		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_fetch_errors_total",
			Help: "Total number of failed task fetches",
		}),

		FetchedItems: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskhub_fetch_items",
			Help:    "Number of tasks returned per fetch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		OrphanedTasks: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_orphaned_tasks_total",
			Help: "Total number of subtasks dropped because their parent was missing",
		}),

		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_mutations_total",
			Help: "Total number of task mutations by operation and outcome",
		}, []string{"operation", "outcome"}),

		Invalidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_cache_invalidations_total",
			Help: "Total number of cache entries invalidated",
		}),
	}

	if cacheSize != nil {
		m.CacheEntries = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "taskhub_cache_entries",
			Help: "Current number of cached task snapshots",
		}, func() float64 {
			return float64(cacheSize())
		})
	}

	return m
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordFetch records one round trip to the task store
func (m *Metrics) RecordFetch(complexity int, d time.Duration, items int, err error) {
	if err != nil {
		m.FetchErrors.Inc()
		return
	}
	m.FetchLatency.WithLabelValues(complexityLabel(complexity)).Observe(d.Seconds())
	m.FetchedItems.Observe(float64(items))
}

// RecordOrphans records subtasks dropped from the hierarchy
func (m *Metrics) RecordOrphans(n int) {
	m.OrphanedTasks.Add(float64(n))
}

// RecordMutation records a task mutation outcome
func (m *Metrics) RecordMutation(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Mutations.WithLabelValues(operation, outcome).Inc()
}

// RecordInvalidation records invalidated cache keys
func (m *Metrics) RecordInvalidation(keys int) {
	m.Invalidations.Add(float64(keys))
}

func complexityLabel(c int) string {
	switch {
	case c <= 1:
		return "simple"
	case c <= 3:
		return "moderate"
	default:
		return "complex"
	}
}
