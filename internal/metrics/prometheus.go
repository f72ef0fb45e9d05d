package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacebot_inbound_messages_total",
		Help: "Inbound chat messages by channel",
	}, []string{"channel"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacebot_decisions_total",
		Help: "Admission decisions by deciding rule and outcome",
	}, []string{"rule", "outcome"})

	DecisionProbability = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pacebot_decision_probability",
		Help:    "Response probability computed per decision",
		Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	})

	PacingDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pacebot_pacing_delay_seconds",
		Help:    "Simulated delay per pacing phase",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
	}, []string{"phase"})

	PacingCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pacebot_pacing_cancelled_total",
		Help: "Pacing sequences aborted by cancellation before sending",
	})

	TypingIndicatorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pacebot_typing_indicator_failures_total",
		Help: "Typing indicator side-channel failures",
	})

	RelationshipUpgrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacebot_relationship_upgrades_total",
		Help: "Automatic relationship upgrades by target level",
	}, []string{"level"})

	GenerationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pacebot_generation_errors_total",
		Help: "Text generation failures",
	})

	HistoryPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pacebot_history_pruned_total",
		Help: "Chat history rows removed by maintenance",
	})
)
