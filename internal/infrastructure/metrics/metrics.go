package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "investledger"

const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultError     = "error"
	ResultOK        = "ok"
	ResultSkipped   = "skipped"
)

var (
	LedgerMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "Balance mutations partitioned by ledger kind and result.",
		},
		[]string{"kind", "result"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Sweep invocations partitioned by job and result.",
		},
		[]string{"job", "result"},
	)

	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "items_total",
			Help:      "Items handled by sweeps partitioned by job and result.",
		},
		[]string{"job", "result"},
	)

	SweepLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_unix",
			Help:      "Unix time of the most recent completed sweep.",
		},
		[]string{"job"},
	)

	WithdrawalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "transitions_total",
			Help:      "Withdrawal state transitions partitioned by target status.",
		},
		[]string{"to"},
	)

	OutboxDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox relay attempts partitioned by result.",
		},
		[]string{"result"},
	)
)

// ObserveSweep 记录一次 sweep 的结果
func ObserveSweep(job string, err error, finishedAt time.Time) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	SweepRuns.WithLabelValues(job, result).Inc()
	if err == nil {
		SweepLastRun.WithLabelValues(job).Set(float64(finishedAt.Unix()))
	}
}
