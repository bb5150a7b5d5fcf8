// Package metrics provides Prometheus metrics for the compute market.
package metrics

import (
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Market ─────────────────────────────────────────────────────────────────

// Events counts committed notifications by type.
var Events = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cmkt",
	Name:      "events_total",
	Help:      "Committed market events by type.",
}, []string{"type"})

// TasksSettled counts tasks reaching a terminal status.
var TasksSettled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cmkt",
	Name:      "tasks_settled_total",
	Help:      "Tasks completed or refunded.",
}, []string{"status"})

// TasksByStatus tracks the number of tasks in each status.
var TasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "cmkt",
	Name:      "tasks",
	Help:      "Tasks by current status.",
}, []string{"status"})

// EscrowBalance tracks funds held in custody, in the smallest unit.
var EscrowBalance = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cmkt",
	Name:      "escrow_balance",
	Help:      "Funds currently held in escrow.",
})

// InvariantHolds is 1 while escrow custody matches active tasks.
var InvariantHolds = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cmkt",
	Name:      "escrow_invariant_holds",
	Help:      "1 if escrow balance equals the sum of active task amounts.",
})

// Rejections counts rejected API calls by error code.
var Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cmkt",
	Name:      "rejections_total",
	Help:      "Calls rejected by the market, by error code.",
}, []string{"code"})

// ─── Relay ──────────────────────────────────────────────────────────────────

// EventsRelayed counts events delivered per connector.
var EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cmkt",
	Name:      "events_relayed_total",
	Help:      "Events delivered to external connectors.",
}, []string{"connector"})

// RelayFailures counts failed deliveries per connector.
var RelayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cmkt",
	Name:      "relay_failures_total",
	Help:      "Failed event deliveries.",
}, []string{"connector"})

// RelayBacklog tracks events not yet delivered.
var RelayBacklog = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cmkt",
	Name:      "relay_backlog",
	Help:      "Committed events awaiting delivery.",
})

// ─── Helpers ────────────────────────────────────────────────────────────────

// RecordEvent updates counters for a committed event.
func RecordEvent(ev models.Event) {
	Events.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case models.EventTaskCompleted:
		TasksSettled.WithLabelValues(string(models.TaskStatusCompleted)).Inc()
	case models.EventTaskRefunded:
		TasksSettled.WithLabelValues(string(models.TaskStatusRefunded)).Inc()
	}
}

// SetTaskCounts replaces the per-status task gauges.
func SetTaskCounts(counts map[models.TaskStatus]int) {
	for _, s := range []models.TaskStatus{
		models.TaskStatusCreated, models.TaskStatusRunning,
		models.TaskStatusCompleted, models.TaskStatusRefunded,
	} {
		TasksByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// SetEscrow records the escrow balance and whether the invariant holds.
func SetEscrow(balance sdkmath.Uint, holds bool) {
	EscrowBalance.Set(toFloat(balance))
	if holds {
		InvariantHolds.Set(1)
	} else {
		InvariantHolds.Set(0)
	}
}

// toFloat converts an amount for a gauge. Precision loss above 2^53 is
// acceptable for monitoring.
func toFloat(u sdkmath.Uint) float64 {
	f, _ := new(big.Float).SetInt(u.BigInt()).Float64()
	return f
}
