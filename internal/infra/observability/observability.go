// Package observability defines the Prometheus metrics for the ledger
// engine: append throughput and latency, rejections by reason, saga and
// reservation activity, anomaly findings, and surge pricing state.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// AppendsTotal counts committed ledger appends by transaction type.
var AppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "ledger",
	Name:      "appends_total",
	Help:      "Total committed ledger appends by transaction type.",
}, []string{"type"})

// AppendDuration tracks the append critical section latency.
var AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "credd",
	Subsystem: "ledger",
	Name:      "append_duration_seconds",
	Help:      "Latency of the serialized append path.",
	Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
})

// AppendsRejected counts rejected appends by reason.
var AppendsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "ledger",
	Name:      "appends_rejected_total",
	Help:      "Total rejected appends by reason.",
}, []string{"reason"})

// IdempotencyHits counts appends answered from the idempotency cache.
var IdempotencyHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "ledger",
	Name:      "idempotency_hits_total",
	Help:      "Total appends answered from a prior idempotent result.",
})

// IntegrityViolations counts chain integrity failures. Any increase here
// pages an operator.
var IntegrityViolations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "ledger",
	Name:      "integrity_violations_total",
	Help:      "Total chain integrity violations detected on the write path.",
})

// EventsDropped counts post-commit events dropped due to a full stream.
var EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "ledger",
	Name:      "events_dropped_total",
	Help:      "Post-commit events dropped because the consumer lagged.",
})

// ─── Saga Metrics ───────────────────────────────────────────────────────────

// ActiveReservations tracks currently open holds.
var ActiveReservations = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "credd",
	Subsystem: "saga",
	Name:      "active_reservations",
	Help:      "Number of reservations currently holding balance.",
})

// ReservationOutcomes counts terminal reservation transitions.
var ReservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "saga",
	Name:      "reservation_outcomes_total",
	Help:      "Terminal reservation outcomes (committed, released, expired).",
}, []string{"outcome"})

// SweepReleases counts reservations released by the expiry sweep.
var SweepReleases = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "saga",
	Name:      "sweep_releases_total",
	Help:      "Reservations compensated by the background expiry sweep.",
})

// ─── Pricing Metrics ────────────────────────────────────────────────────────

// SurgeMultiplier exposes the current surge multiplier in basis points.
var SurgeMultiplier = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "credd",
	Subsystem: "pricing",
	Name:      "surge_multiplier_bps",
	Help:      "Current surge multiplier in basis points (10000 = 1.0x).",
})

// EstimatesTotal counts cost estimates served.
var EstimatesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "pricing",
	Name:      "estimates_total",
	Help:      "Total cost estimates computed.",
})

// ─── Anomaly Metrics ────────────────────────────────────────────────────────

// AnomaliesDetected counts findings by type.
var AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credd",
	Subsystem: "anomaly",
	Name:      "detected_total",
	Help:      "Total audit anomalies detected by type.",
}, []string{"type"})
