// Package metrics exposes Prometheus collectors for the article generation
// pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal           *prometheus.CounterVec
	articlesTotal        *prometheus.CounterVec
	cacheOpsTotal        *prometheus.CounterVec
	throttleWaitSeconds  *prometheus.HistogramVec
	researchCallsTotal   *prometheus.CounterVec
	activeWorkers        prometheus.Gauge
	batchDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "articlegen_tasks_total",
				Help: "Scheduler task outcomes, labeled by status.",
			},
			[]string{"status"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "articlegen_articles_total",
				Help: "Article generation outcomes, labeled by status.",
			},
			[]string{"status"},
		)

		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "articlegen_cache_ops_total",
				Help: "Cache lookups, labeled by namespace and result (hit, miss, expired).",
			},
			[]string{"namespace", "result"},
		)

		throttleWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "articlegen_throttle_wait_seconds",
				Help:    "Time spent waiting on the per-service call throttle.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"service"},
		)

		researchCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "articlegen_research_calls_total",
				Help: "External research calls, labeled by service and outcome.",
			},
			[]string{"service", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "articlegen_active_workers",
				Help: "Number of scheduler workers currently running a task.",
			},
		)

		batchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "articlegen_batch_duration_seconds",
				Help:    "Wall-clock duration of whole batch runs.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)
	})
}

// IncTask records one scheduler task outcome.
func IncTask(status string) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(status).Inc()
}

// IncArticle records one article outcome.
func IncArticle(status string) {
	if articlesTotal == nil {
		return
	}
	articlesTotal.WithLabelValues(status).Inc()
}

// IncCacheOp records one cache lookup result for a namespace.
func IncCacheOp(namespace, result string) {
	if cacheOpsTotal == nil {
		return
	}
	cacheOpsTotal.WithLabelValues(namespace, result).Inc()
}

// ObserveThrottleWait records time spent blocked on a service's rate budget.
func ObserveThrottleWait(service string, d time.Duration) {
	if throttleWaitSeconds == nil {
		return
	}
	throttleWaitSeconds.WithLabelValues(service).Observe(d.Seconds())
}

// IncResearchCall records one external research call outcome.
func IncResearchCall(service, outcome string) {
	if researchCallsTotal == nil {
		return
	}
	researchCallsTotal.WithLabelValues(service, outcome).Inc()
}

// IncActiveWorkers marks one scheduler worker as busy.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers marks one scheduler worker as idle again.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

// ObserveBatchDuration records the wall-clock time of a full batch run.
func ObserveBatchDuration(d time.Duration) {
	if batchDurationSeconds == nil {
		return
	}
	batchDurationSeconds.Observe(d.Seconds())
}
