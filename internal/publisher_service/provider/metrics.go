package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publisherRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autopost",
			Subsystem: "publisher",
			Name:      "request_duration_seconds",
			Help:      "Duration of publish calls per publisher.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"publisher"},
	)

	publisherRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopost",
			Subsystem: "publisher",
			Name:      "requests_total",
			Help:      "Publish calls per publisher and outcome.",
		},
		[]string{"publisher", "status"}, // status: success, error, timeout, panic
	)
)
