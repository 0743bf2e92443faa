// Package metrics holds the Prometheus collectors shared by ingestion, the
// query API and the chat protocol.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestRuns counts ingestion runs by mode and final status.
	IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finledger_ingest_runs_total",
		Help: "Ingestion runs by mode and status",
	}, []string{"mode", "status"})

	// IngestDuration tracks wall time of a full ingestion run.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finledger_ingest_duration_seconds",
		Help:    "Ingestion run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// SourceErrors counts sources that could not be normalized at all.
	SourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finledger_source_errors_total",
		Help: "Unreadable sources by source name",
	}, []string{"source"})

	// NormalizeNotes counts data-quality notes per source.
	NormalizeNotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finledger_normalize_notes_total",
		Help: "Data-quality notes raised during normalization",
	}, []string{"source"})

	// ReconcileIssues counts metric mismatches beyond tolerance.
	ReconcileIssues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finledger_reconcile_issues_total",
		Help: "Reconciliation issues recorded",
	})

	// QueryRequests counts query operations by operation and result.
	QueryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finledger_query_requests_total",
		Help: "Query operations by operation and result",
	}, []string{"operation", "result"})

	// ChatTurns counts chat turns by outcome.
	ChatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finledger_chat_turns_total",
		Help: "Chat turns by outcome",
	}, []string{"outcome"})

	// PlanRejections counts plans discarded during validation.
	PlanRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finledger_plan_rejections_total",
		Help: "Planner outputs rejected by validation",
	})

	// UngroundedAnswers counts narrations replaced by a fact summary.
	UngroundedAnswers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finledger_ungrounded_answers_total",
		Help: "Narrations replaced because they cited unknown numbers",
	})

	// LLMDuration tracks planner and narrator latency.
	LLMDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finledger_llm_duration_seconds",
		Help:    "Language model call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"stage", "result"})
)
