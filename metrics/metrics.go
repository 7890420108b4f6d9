package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	KillmailsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killwatch_killmails_ingested_total",
			Help: "Total number of killmails ingested",
		},
		[]string{"source"},
	)

	MatchesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killwatch_matches_emitted_total",
			Help: "Total number of profile matches emitted",
		},
	)

	MatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "killwatch_match_duration_seconds",
			Help:    "Time taken to match one killmail against the profile set",
			Buckets: prometheus.DefBuckets,
		},
	)

	CandidateSetSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "killwatch_candidate_set_size",
			Help:    "Number of candidate profiles selected by the index per killmail",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	ActiveProfiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "killwatch_active_profiles",
			Help: "Number of profiles currently published to the matching engine",
		},
	)

	FallbackProfiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "killwatch_fallback_profiles",
			Help: "Number of profiles in the always-candidate fallback set",
		},
	)

	CompileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killwatch_compile_failures_total",
			Help: "Total number of profile filter trees rejected at compile time",
		},
	)

	EvaluationPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killwatch_evaluation_panics_total",
			Help: "Total number of predicate evaluations recovered from panic",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killwatch_result_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killwatch_result_cache_misses_total",
			Help: "Total number of result cache misses",
		},
		[]string{"tier"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killwatch_result_cache_errors_total",
			Help: "Total number of result cache errors",
		},
		[]string{"tier", "operation"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killwatch_notifications_sent_total",
			Help: "Total number of match notifications dispatched",
		},
		[]string{"status"},
	)
)
