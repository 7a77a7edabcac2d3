package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsTotal counts outgoing calls by outcome (ok, timeout, publish_error, cancelled).
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_calls_total",
			Help: "Total number of RPC calls issued, by outcome",
		},
		[]string{"topic", "action", "outcome"},
	)

	// CallDuration observes the time from publish to reply or timeout.
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_call_duration_seconds",
			Help:    "Duration of RPC calls in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"topic", "action"},
	)

	// PendingCalls is the number of calls waiting for a reply.
	PendingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpc_pending_calls",
			Help: "Number of RPC calls currently awaiting a reply",
		},
	)

	// DiscardedReplies counts replies whose correlation id was not pending.
	DiscardedReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_discarded_replies_total",
			Help: "Total number of replies dropped because no call was pending",
		},
		[]string{"topic"},
	)

	// RequestsHandled counts responder invocations by outcome (ok, failed).
	RequestsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_requests_handled_total",
			Help: "Total number of RPC requests answered, by outcome",
		},
		[]string{"topic", "action", "outcome"},
	)

	// RequestsDropped counts malformed requests that could not be answered.
	RequestsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_requests_dropped_total",
			Help: "Total number of malformed RPC requests dropped without reply",
		},
		[]string{"topic"},
	)

	// CachedReplies counts redelivered requests answered from the reply cache.
	CachedReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_cached_replies_total",
			Help: "Total number of RPC replies served from the reply cache",
		},
		[]string{"action"},
	)

	// BreakerState is the circuit breaker state (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpc_circuit_breaker_state",
			Help: "Current state of the RPC circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
