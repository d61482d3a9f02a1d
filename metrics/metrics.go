// Package metrics holds the Prometheus collectors for the settlement engine.
// Collectors register with the default registry and are served by the API's
// /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "settlement"

var ObligationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "obligations_created_total",
	Help:      "Obligations created, by kind.",
}, []string{"kind"})

var RepaymentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "repayments_applied_total",
	Help:      "FIFO repayment calls, by mode (commit or dry_run).",
}, []string{"mode"})

var SettlementsRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "settlements_recorded_total",
	Help:      "Settlement rows written.",
})

var ObligationsSettled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "obligations_settled_total",
	Help:      "Obligations transitioned to settled.",
})

var RepaymentResidual = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "repayment_residual_amount",
	Help:      "Unconsumed repayment amount left after FIFO allocation.",
	Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
})

var DriftDetected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "balance_drift_detected_total",
	Help:      "Consistency checks that found drift beyond tolerance, by role.",
}, []string{"role"})

var DriftFixed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "balance_drift_fixed_total",
	Help:      "Cached balances overwritten with the computed value.",
})

var DriftedUsers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "drifted_users",
	Help:      "Users exceeding tolerance in the most recent drift scan.",
})

var DriftScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "drift_scan_duration_seconds",
	Help:      "Wall time of a full drift scan.",
	Buckets:   prometheus.DefBuckets,
})
