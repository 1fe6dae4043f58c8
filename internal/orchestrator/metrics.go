package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curatord",
			Subsystem: "orchestrator",
			Name:      "sessions_started_total",
			Help:      "Total number of sessions started",
		},
		[]string{"intent", "mode"},
	)

	sessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curatord",
			Subsystem: "orchestrator",
			Name:      "sessions_finished_total",
			Help:      "Total number of sessions that reached a terminal status",
		},
		[]string{"status"},
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "curatord",
			Subsystem: "orchestrator",
			Name:      "phase_duration_seconds",
			Help:      "Duration of phase executions in seconds",
			Buckets:   []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent", "status"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "curatord",
			Subsystem: "orchestrator",
			Name:      "active_sessions",
			Help:      "Number of sessions currently registered as active",
		},
	)

	approvalsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "curatord",
			Subsystem: "orchestrator",
			Name:      "approvals_pending",
			Help:      "Number of sessions paused at an approval gate",
		},
	)
)
