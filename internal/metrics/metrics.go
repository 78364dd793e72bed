package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitygate_decisions_total",
			Help: "Count of gate decisions by verdict",
		},
		[]string{"verdict"},
	)
	DecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unitygate_decision_duration_seconds",
			Help:    "Latency of a single pipeline evaluation",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		},
	)
	BansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unitygate_bans_total",
			Help: "Client addresses banned after repeated failures",
		},
	)
	AdminDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unitygate_admin_denied_total",
			Help: "Admin endpoint requests rejected for a bad admin token",
		},
	)
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitygate_rate_limit_hits_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
		[]string{"window"},
	)
	LedgerWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitygate_ledger_write_errors_total",
			Help: "Audit entries a sink failed to persist",
		},
		[]string{"sink"},
	)
	LedgerDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unitygate_ledger_dropped_total",
			Help: "Audit entries dropped because the ledger was closed",
		},
	)
	LedgerSinkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unitygate_ledger_sink_state",
			Help: "Circuit state per ledger sink (0=closed, 1=open, 2=half-open)",
		},
		[]string{"sink"},
	)
	LedgerSinkTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitygate_ledger_sink_transitions_total",
			Help: "Circuit state transitions per ledger sink",
		},
		[]string{"sink", "from", "to"},
	)
	BuildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "unitygate_build_info",
			Help:        "Build info gauge with const labels",
			ConstLabels: prometheus.Labels{"version": "0.1.0"},
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		DecisionTotal, DecisionDuration, BansTotal, AdminDenied, RateLimitHits,
		LedgerWriteErrors, LedgerDropped, LedgerSinkState, LedgerSinkTransitions, BuildInfo,
	)
}
