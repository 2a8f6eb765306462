// Package metrics holds the process-wide Prometheus collectors. Label sets are
// fixed here so every call site reports the same schema.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is exposed at /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	PlannerDecisions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_planner_decisions_total",
		Help: "Planner outcomes per intent.",
	}, []string{"intent", "outcome"})

	SQLLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "araquem_sql_latency_seconds",
		Help:    "Executor query latency per entity.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"entity"})

	SQLRows = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_sql_rows_total",
		Help: "Rows returned by the executor per entity.",
	}, []string{"entity"})

	CacheOps = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_cache_ops_total",
		Help: "Read-through cache outcomes: hit, miss, write, skip_empty, bypass, bust.",
	}, []string{"entity", "op"})

	CacheErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_cache_errors_total",
		Help: "Swallowed cache backend errors per operation.",
	}, []string{"op"})

	Errors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_errors_total",
		Help: "Errors per kind.",
	}, []string{"kind"})

	RAGRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_rag_requests_total",
		Help: "RAG context decisions per outcome.",
	}, []string{"outcome"})

	RAGLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "araquem_rag_latency_seconds",
		Help:    "Embedding plus retrieval latency.",
		Buckets: prometheus.DefBuckets,
	})

	NarratorStrategy = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_narrator_strategy_total",
		Help: "Narrator strategy per entity.",
	}, []string{"entity", "strategy"})

	NarratorLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "araquem_narrator_latency_seconds",
		Help:    "LLM call latency, including shadow calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"mode"})

	Gates = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_gates_total",
		Help: "Orchestrator gate outcomes.",
	}, []string{"gate", "outcome"})

	ProjectionQuality = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_projection_quality_total",
		Help: "Whether returned rows carried every declared column.",
	}, []string{"entity", "outcome"})

	QualitySamples = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_quality_samples_total",
		Help: "Pushed quality samples per type and outcome.",
	}, []string{"type", "outcome"})

	QuotaBlocks = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "araquem_quota_blocks_total",
		Help: "Requests blocked by quota per user type.",
	}, []string{"type_user"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Error kinds used with Errors.
const (
	KindPolicy    = "policy"
	KindSQL       = "sql"
	KindCache     = "cache"
	KindRAG       = "rag"
	KindLLM       = "llm"
	KindViolation = "policy_violation"
	KindQuota     = "quota"
	KindAnalytics = "analytics"
)
