// Package observability provides Prometheus metrics for the decision core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convocore_messages_processed_total",
			Help: "Inbound messages handled end to end",
		},
		[]string{"status"}, // processed, duplicate, error, not_sent
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "convocore_processing_duration_seconds",
			Help:    "End-to-end message processing duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	DecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "convocore_decision_duration_seconds",
			Help:    "Decision service call duration including fallback handling",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
	)

	DecisionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convocore_decision_fallbacks_total",
			Help: "Decision calls recovered into the fixed fallback",
		},
	)

	GateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convocore_gate_rejections_total",
			Help: "Validator gate rejections by reason code",
		},
		[]string{"reason"},
	)

	GuardFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convocore_guard_fired_total",
			Help: "Guard chain rewrites by guard id",
		},
		[]string{"guard"},
	)

	FSMTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convocore_fsm_transitions_total",
			Help: "Conversation state transition attempts",
		},
		[]string{"result"}, // committed, rejected
	)

	ExtractionSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convocore_extraction_skipped_total",
			Help: "Turns where extraction missed the fan-out deadline or failed",
		},
	)

	SweeperDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convocore_sweeper_deleted_rows_total",
			Help: "Expired rows removed by the scheduled sweeper",
		},
		[]string{"store"},
	)
)
