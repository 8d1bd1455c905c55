package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotd_decisions_total",
			Help: "Trade decisions taken, split by result and reject reason.",
		},
		[]string{"result", "reason"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotd_positions_open",
			Help: "Current number of open positions.",
		},
	)

	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotd_trades_total",
			Help: "Closed trades by result (win|loss).",
		},
		[]string{"result"},
	)

	ExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotd_exit_reasons_total",
			Help: "Position exits split by reason.",
		},
		[]string{"reason"},
	)

	RealizedPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotd_realized_pnl",
			Help: "Cumulative realized PnL.",
		},
	)

	Exposure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotd_exposure",
			Help: "Fraction of capital committed to open positions.",
		},
	)

	RiskScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotd_risk_score",
			Help: "Composite risk score (0-100).",
		},
	)

	PatternsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotd_patterns_tracked",
			Help: "Number of distinct signal patterns with recorded outcomes.",
		},
	)
)

func init() {
	prometheus.MustRegister(Decisions, PositionsOpen, Trades, ExitReasons,
		RealizedPnl, Exposure, RiskScore, PatternsTracked)
}
