package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	approvalActionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopost",
			Name:      "approval_actions_total",
			Help:      "Operator actions on queued posts.",
		},
		[]string{"action", "result"}, // result: ok, not_found, invalid_transition, validation, error
	)

	dispatchOutcomesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopost",
			Name:      "dispatch_outcomes_total",
			Help:      "Per-platform dispatch outcomes.",
		},
		[]string{"platform", "result"}, // result: success, failure
	)

	dispatchDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autopost",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a full dispatch across all platforms of a post.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"trigger"}, // approve, redispatch, sweep
	)

	natsSubmissionsReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopost",
			Name:      "nats_submissions_received_total",
			Help:      "Post submissions received over NATS.",
		},
		[]string{"subject", "result"},
	)
)
