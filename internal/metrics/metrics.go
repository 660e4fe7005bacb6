// Package metrics holds the engine's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AggregationDuration tracks frequency computation latency by scope kind.
	AggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "varfreq_aggregation_duration_seconds",
		Help:    "Frequency aggregation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"scope_kind"})

	// CacheLookups counts cache gets by outcome: hit, miss, stale.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varfreq_cache_lookups_total",
		Help: "Frequency cache lookups by outcome",
	}, []string{"outcome"})

	// CacheRejectedPuts counts puts refused after cancellation or invalidation.
	CacheRejectedPuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varfreq_cache_rejected_puts_total",
		Help: "Cache puts refused, by reason",
	}, []string{"reason"})

	// Invalidations counts per-locus cache invalidations from imports.
	Invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varfreq_cache_invalidations_total",
		Help: "Cache invalidations triggered by imports and withdrawals",
	})

	// ImportJobs counts finished import jobs by result.
	ImportJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varfreq_import_jobs_total",
		Help: "Import jobs finished, by result",
	}, []string{"result"})
)
