package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsStopped *prometheus.CounterVec
	PositionsOpened prometheus.Counter
	PositionsClosed *prometheus.CounterVec
	FallbackFills   *prometheus.CounterVec
	CloseFailures   prometheus.Counter
	MonitorTicks    prometheus.Counter
	SkippedPrices   prometheus.Counter
}

// NewMetrics registers the engine collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tradepilot_sessions_active",
			Help: "Number of sessions currently being monitored.",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradepilot_sessions_started_total",
			Help: "Total sessions started.",
		}),
		SessionsStopped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradepilot_sessions_stopped_total",
			Help: "Total sessions stopped, by stop reason.",
		}, []string{"reason"}),
		PositionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradepilot_positions_opened_total",
			Help: "Total positions opened.",
		}),
		PositionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradepilot_positions_closed_total",
			Help: "Total positions closed, by close reason.",
		}, []string{"reason"}),
		FallbackFills: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradepilot_fallback_fills_total",
			Help: "Total simulated fallback fills, by venue failure reason.",
		}, []string{"reason"}),
		CloseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradepilot_close_failures_total",
			Help: "Total venue close orders that failed and were flagged.",
		}),
		MonitorTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradepilot_monitor_ticks_total",
			Help: "Total monitor ticks across all sessions.",
		}),
		SkippedPrices: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradepilot_skipped_price_checks_total",
			Help: "Position checks skipped because no reference price was available.",
		}),
	}
}
