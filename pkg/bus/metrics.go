package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished counts messages handed to the broker.
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Total number of messages published to the bus",
		},
		[]string{"topic"},
	)

	// PublishErrors counts publish attempts that failed.
	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_errors_total",
			Help: "Total number of failed bus publish attempts",
		},
		[]string{"topic"},
	)

	// MessagesConsumed counts handled deliveries by outcome (ok, error).
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_consumed_total",
			Help: "Total number of bus deliveries handled, by outcome",
		},
		[]string{"topic", "outcome"},
	)

	// Reconnects counts connection losses that triggered a reconnect.
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnects_total",
			Help: "Total number of bus reconnect attempts after a lost connection",
		},
	)
)
