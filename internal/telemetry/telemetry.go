// Package telemetry wires the Prometheus collectors ambient to the trading
// core: broker call latency, event-queue depth, signals generated, orders
// filled — real prometheus.Counter/prometheus.Histogram collectors rather
// than hand-rolled atomics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors groups every metric the core emits, registered once at
// startup against the default registry.
type Collectors struct {
	BrokerCallLatency *prometheus.HistogramVec
	EventQueueDepth   *prometheus.GaugeVec
	SignalsGenerated  *prometheus.CounterVec
	OrdersFilled      *prometheus.CounterVec
	ReconcileOutcomes *prometheus.CounterVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// New registers and returns the process's metric collectors. Safe to call
// once per process; registering twice against the default registry panics,
// matching promauto's documented behavior.
func New() *Collectors {
	return &Collectors{
		BrokerCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atlasd",
			Subsystem: "broker",
			Name:      "call_duration_seconds",
			Help:      "Latency of broker API calls by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		EventQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "atlasd",
			Subsystem: "eventqueue",
			Name:      "depth",
			Help:      "Number of commands queued per shard.",
		}, []string{"shard"}),
		SignalsGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlasd",
			Subsystem: "strategy",
			Name:      "signals_generated_total",
			Help:      "Count of signals generated by type.",
		}, []string{"symbol", "type"}),
		OrdersFilled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlasd",
			Subsystem: "execution",
			Name:      "orders_filled_total",
			Help:      "Count of filled orders by kind.",
		}, []string{"symbol", "kind"}),
		ReconcileOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlasd",
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Count of reconciliation passes by outcome.",
		}, []string{"outcome"}),
		CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlasd",
			Subsystem: "lossguard",
			Name:      "circuit_breaker_trips_total",
			Help:      "Count of times a strategy's loss circuit breaker tripped.",
		}, []string{"strategy_id"}),
	}
}
