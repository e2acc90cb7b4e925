// Package observability defines the Prometheus metric set for the balance
// engine. Metrics are registered via promauto and served on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Production Metrics ─────────────────────────────────────────────────────

// GainsProduced tracks total currency produced, by source.
var GainsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "producer",
	Name:      "gains_total",
	Help:      "Total currency units produced, by session source.",
}, []string{"source"})

// CommitsTotal tracks committed balance changes by transaction type.
var CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "producer",
	Name:      "commits_total",
	Help:      "Total committed balance changes, by transaction type.",
}, []string{"type"})

// SessionsRejected tracks rejected manual sessions by reason.
var SessionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "producer",
	Name:      "sessions_rejected_total",
	Help:      "Total manual session requests rejected, by reason.",
}, []string{"reason"})

// TicksSkipped tracks background scheduler ticks skipped by reason.
var TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "scheduler",
	Name:      "ticks_skipped_total",
	Help:      "Background production ticks skipped, by reason.",
}, []string{"reason"})

// ─── Reconciliation Metrics ─────────────────────────────────────────────────

// ReconcilePushes tracks local→remote pushes (local value won).
var ReconcilePushes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "reconcile",
	Name:      "pushes_total",
	Help:      "Reconcile runs where the local balance won and was pushed to the remote.",
})

// ReconcilePulls tracks remote→local pulls (remote value won).
var ReconcilePulls = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "reconcile",
	Name:      "pulls_total",
	Help:      "Reconcile runs where the remote balance won and was pulled into the ledger.",
})

// ReconcileDivergence records the absolute divergence observed per run.
var ReconcileDivergence = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "yieldloop",
	Subsystem: "reconcile",
	Name:      "divergence",
	Help:      "Absolute local/remote balance divergence observed per reconcile run.",
	Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 25, 100, 1000},
})

// ─── Quota Metrics ──────────────────────────────────────────────────────────

// QuotaTrips tracks daily-limit cutoffs by tier.
var QuotaTrips = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "quota",
	Name:      "trips_total",
	Help:      "Daily-limit cutoff transitions, by subscription tier.",
}, []string{"tier"})

// ─── Dormancy Metrics ───────────────────────────────────────────────────────

// DormancyPenalties tracks applied penalties by stage.
var DormancyPenalties = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "dormancy",
	Name:      "penalties_total",
	Help:      "Dormancy penalties applied, by stage.",
}, []string{"stage"})

// ─── Remote Service Metrics ─────────────────────────────────────────────────

// RemoteErrors tracks remote balance service call failures by operation.
var RemoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "yieldloop",
	Subsystem: "remote",
	Name:      "errors_total",
	Help:      "Remote balance service call failures, by operation.",
}, []string{"op"})

// LocalBalance exports the last-known local balance.
var LocalBalance = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "yieldloop",
	Subsystem: "ledger",
	Name:      "current_balance",
	Help:      "Last-known local balance for the authenticated account.",
})
