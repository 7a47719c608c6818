// Package metrics declares the Prometheus collectors shared by the binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Quota gate
	QuotaAcquire = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_acquire_total",
			Help: "Marketplace quota acquisitions by result",
		},
		[]string{"result"}, // granted, daily_limit, rate_wait, counter_error
	)

	QuotaDailyUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quota_daily_used",
			Help: "Marketplace calls counted against today's quota",
		},
	)

	// Embedding client
	EmbeddingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	EmbeddingProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_provider_attempts_total",
			Help: "Embedding provider calls by outcome",
		},
		[]string{"outcome"}, // success, retryable, fatal, synthetic
	)

	// Candidate sources
	SourceCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_candidates_total",
			Help: "Candidates returned by each source before filtering",
		},
		[]string{"source"},
	)

	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_failures_total",
			Help: "Source calls that degraded to an empty result",
		},
		[]string{"source"},
	)

	// Recommendation requests
	RecommendResultSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recommend_result_size",
			Help:    "Number of items returned per recommendation request",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 30, 50},
		},
	)

	RecommendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recommend_duration_seconds",
			Help:    "Duration of recommendation requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecommendOutcome = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_outcome_total",
			Help: "Recommendation requests by outcome status",
		},
		[]string{"status"}, // ok, partial, empty
	)

	// Vector sync worker
	VectorSyncEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectorsync_events_total",
			Help: "Product sync events processed by result",
		},
		[]string{"result"}, // indexed, duplicate, failed
	)
)
