// Package metrics exposes Prometheus counters for the content pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all metrics for one process. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	FetchTotal     *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	Retries        prometheus.Counter
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	QuotaRemaining prometheus.Gauge
	BatchFiles     *prometheus.CounterVec
	Reviews        *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_fetch_total",
			Help:      "Content fetches by result source (fresh, cache, stale).",
		}, []string{"source"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_fetch_errors_total",
			Help:      "Failed content fetches by error kind.",
		}, []string{"kind"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "content_fetch_duration_seconds",
			Help:      "Duration of network fetches including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_fetch_retries_total",
			Help:      "Retry waits scheduled by the fetch retry strategy.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_cache_hits_total",
			Help:      "Fetches answered from the content cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_cache_misses_total",
			Help:      "Fetches that went to the network.",
		}),
		QuotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_quota_remaining",
			Help:      "Remaining requests reported by the metered API host.",
		}),
		BatchFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deck_batch_files_total",
			Help:      "Per-file outcomes of directory batch fetches.",
		}, []string{"outcome"}),
		Reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashcard_reviews_total",
			Help:      "Flashcard reviews by quality.",
		}, []string{"quality"}),
	}

	c.registry.MustRegister(
		c.FetchTotal,
		c.FetchErrors,
		c.FetchDuration,
		c.Retries,
		c.CacheHits,
		c.CacheMisses,
		c.QuotaRemaining,
		c.BatchFiles,
		c.Reviews,
	)
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records a completed fetch.
func (c *Collector) ObserveFetch(source string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.FetchTotal.WithLabelValues(source).Inc()
	if source == "cache" {
		c.CacheHits.Inc()
		return
	}
	c.CacheMisses.Inc()
	c.FetchDuration.Observe(elapsed.Seconds())
}

// ObserveError records a failed fetch.
func (c *Collector) ObserveError(kind string) {
	if c == nil || kind == "" {
		return
	}
	c.FetchErrors.WithLabelValues(kind).Inc()
}

// ObserveRetry records one scheduled retry.
func (c *Collector) ObserveRetry() {
	if c == nil {
		return
	}
	c.Retries.Inc()
}

// SetQuotaRemaining records the latest quota reading.
func (c *Collector) SetQuotaRemaining(n int) {
	if c == nil {
		return
	}
	c.QuotaRemaining.Set(float64(n))
}

// ObserveBatchFile records a per-file batch outcome (fetched, failed, skipped).
func (c *Collector) ObserveBatchFile(outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BatchFiles.WithLabelValues(outcome).Add(float64(n))
}

// ObserveReview records a flashcard review.
func (c *Collector) ObserveReview(quality string) {
	if c == nil {
		return
	}
	c.Reviews.WithLabelValues(quality).Inc()
}
