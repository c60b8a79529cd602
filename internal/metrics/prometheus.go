package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reco_ask_duration_seconds",
			Help:    "Ask pipeline duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	AskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_ask_total",
			Help: "Total number of questions answered, by outcome",
		},
		[]string{"outcome"},
	)

	SynthTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_synth_tier_total",
			Help: "Answers produced per synthesis tier",
		},
		[]string{"tier"},
	)

	Continuations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reco_continuations_total",
			Help: "Continuation calls issued for truncated answers",
		},
	)

	SuggestionFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reco_suggestion_fallback_total",
			Help: "Times the fixed suggestion list was returned",
		},
	)

	PersistenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_persistence_errors_total",
			Help: "Swallowed conversation persistence failures",
		},
		[]string{"op"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache"},
	)

	FilterFullScans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reco_filter_fullscan_total",
			Help: "Structured filter fallbacks to a full corpus scan",
		},
	)

	EvidenceCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reco_evidence_count",
			Help:    "Evidence items passed to synthesis per question",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 40, 64},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"type"},
	)

	ReviewsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_reviews_ingested_total",
			Help: "Reviews processed by bulk ingestion",
		},
		[]string{"result"},
	)

	ResearchSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_research_sessions_total",
			Help: "Research sessions by final status",
		},
		[]string{"status"},
	)
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			AskDuration,
			AskTotal,
			SynthTierTotal,
			Continuations,
			SuggestionFallbacks,
			PersistenceErrors,
			CacheHits,
			CacheMisses,
			FilterFullScans,
			EvidenceCount,
			LLMTokensUsed,
			ReviewsIngested,
			ResearchSessions,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
