// Package metrics exposes Prometheus collectors for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "talemind"
)

var (
	// Generation
	GenerationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "total",
			Help:      "Total number of narrative generations by outcome",
		},
		[]string{"status"}, // completed/cancelled/failed/insufficient_balance
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Narrative generation duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// Context assembly
	ContextTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "tokens",
			Help:      "Tokens used per context section",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		},
		[]string{"section"}, // instructions/world/memory
	)

	ContextOverflowTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "overflow_tokens",
			Help:      "Tokens by which an assembled context exceeded its limit",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 6),
		},
	)

	// Card event log
	CardEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cards",
			Name:      "events_total",
			Help:      "Total number of card events by family and action",
		},
		[]string{"family", "action"},
	)

	CardUndoTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cards",
			Name:      "undo_total",
			Help:      "Total number of undo and redo operations",
		},
		[]string{"op", "status"},
	)

	// Background tasks
	IllustrationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "illustration",
			Name:      "total",
			Help:      "Total number of illustration tasks by outcome",
		},
		[]string{"status"}, // completed/failed/timeout/superseded
	)

	TasksSupersededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "superseded_total",
			Help:      "Total number of background tasks cancelled by a newer task",
		},
		[]string{"kind"},
	)
)

// RecordUsage observes one assembled context.
func RecordUsage(instructions, world, memory, overflow int) {
	ContextTokens.WithLabelValues("instructions").Observe(float64(instructions))
	ContextTokens.WithLabelValues("world").Observe(float64(world))
	ContextTokens.WithLabelValues("memory").Observe(float64(memory))
	if overflow > 0 {
		ContextOverflowTokens.Observe(float64(overflow))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
