// Package metrics exposes Prometheus collectors for the exchange engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the exchange-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	swapsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "swaps",
			Name:      "created_total",
			Help:      "Total number of swap requests created.",
		},
	)

	swapTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "swaps",
			Name:      "transitions_total",
			Help:      "Total number of swap lifecycle transitions applied.",
		},
		[]string{"to"},
	)

	redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "redemptions",
			Name:      "attempts_total",
			Help:      "Total number of point redemption attempts by outcome.",
		},
		[]string{"outcome"},
	)

	pointsTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "ledger",
			Name:      "points_transferred_total",
			Help:      "Total points moved between users.",
		},
	)

	pointsMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "ledger",
			Name:      "points_minted_total",
			Help:      "Total points minted by signup bonuses.",
		},
	)

	swapsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "sweeper",
			Name:      "swaps_expired_total",
			Help:      "Total number of pending swaps expired by the sweeper.",
		},
	)
)

func init() {
	Registry.MustRegister(
		swapsCreated,
		swapTransitions,
		redemptions,
		pointsTransferred,
		pointsMinted,
		swapsExpired,
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordSwapCreated counts a new swap request.
func RecordSwapCreated() { swapsCreated.Inc() }

// RecordSwapTransition counts a lifecycle transition into the given status.
func RecordSwapTransition(to string) { swapTransitions.WithLabelValues(to).Inc() }

// RecordRedemption counts a redemption attempt outcome (completed, conflict,
// insufficient_funds, error).
func RecordRedemption(outcome string) { redemptions.WithLabelValues(outcome).Inc() }

// RecordTransfer counts points moved between users.
func RecordTransfer(amount int64) {
	if amount > 0 {
		pointsTransferred.Add(float64(amount))
	}
}

// RecordMint counts points created by a signup bonus.
func RecordMint(amount int64) {
	if amount > 0 {
		pointsMinted.Add(float64(amount))
	}
}

// RecordExpired counts swaps transitioned to expired by the sweeper.
func RecordExpired(n int) {
	if n > 0 {
		swapsExpired.Add(float64(n))
	}
}
