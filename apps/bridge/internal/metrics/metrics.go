package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	DepositsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_deposits_matched_total",
		Help: "The total number of deposits matched to an intent",
	}, []string{"currency"})

	DepositsUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_deposits_unmatched_total",
		Help: "The total number of deposits recorded without a matching intent",
	})

	SettlementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_settlements_total",
		Help: "Settlement pipeline outcomes",
	}, []string{"outcome"})

	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_settlement_duration_seconds",
		Help:    "Time taken to run the conversion pipeline",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	EscrowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_escrow_transitions_total",
		Help: "Escrow offer state transitions",
	}, []string{"to_status"})

	IntentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_intents_expired_total",
		Help: "Intents expired by the reaper without a deposit",
	})

	OffersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_offers_expired_total",
		Help: "Offers cancelled by the reaper after their deadline",
	})

	ActiveIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_intents",
		Help: "Intents currently eligible for deposit matching",
	})
)
