package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClaimSubmissions counts claim submissions by outcome: the order service's
// rejection reason, "accepted", or "error".
var ClaimSubmissions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "warranty_claim_submissions_total",
		Help: "Total number of warranty claim submissions by outcome",
	},
	[]string{"outcome"},
)
