package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SagaOutcomes counts finished order-creation attempts by terminal state.
	SagaOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_outcomes_total",
			Help: "Total number of order sagas by terminal state",
		},
		[]string{"state"},
	)

	// SagaDuration observes how long an order-creation attempt took.
	SagaDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Duration of order sagas in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"state"},
	)
)
