package risk

import (
	"math"
	"sync"
	"time"

	"github.com/evdnx/gotd/config"
	"github.com/evdnx/gotd/types"
)

// Metrics is the snapshot the rest of the engine reads. Exposure and
// drawdown are fractions of capital; RiskScore is 0-100.
type Metrics struct {
	Exposure        float64 `json:"exposure"`
	DailyDrawdown   float64 `json:"daily_drawdown"`
	RiskScore       float64 `json:"risk_score"`
	WinRate         float64 `json:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor"`
	AvgWinLossRatio float64 `json:"avg_win_loss_ratio"`
}

// Engine sizes positions, derives protective levels and vetoes trades on
// aggregate limits, independently of pattern history. All mutable state
// sits behind one mutex; sizing and stop computation are pure given the
// snapshot they read.
type Engine struct {
	mu  sync.Mutex
	cfg config.EngineConfig

	metrics     Metrics
	dayRealized float64
	dayStart    time.Time
	lastOrder   time.Time
	trades      []float64 // bounded realized-PnL window
}

func NewEngine(cfg config.EngineConfig) *Engine {
	return &Engine{cfg: cfg}
}

// SizePosition computes a quantity (in capital units) from signal strength,
// volatility and current exposure. Invalid input yields 0, which callers
// must treat as "reject, insufficient size".
//
// base = capital * BaseFraction, scaled by (0.5+|strength|), dampened by
// volatility and by how close the book already is to MaxTotalRisk, nudged
// by the historical win rate, capped at capital * MaxPositionSize and
// rounded down to the tradable increment.
func (e *Engine) SizePosition(capital, signalStrength, volatility, currentExposure float64) float64 {
	if invalid(capital) || capital <= 0 ||
		invalid(signalStrength) || invalid(volatility) || volatility < 0 ||
		invalid(currentExposure) {
		return 0
	}

	base := capital * e.cfg.BaseFraction
	signalMult := 0.5 + math.Abs(signalStrength)
	volMult := clamp(1-volatility*2, 0.5, 1.0)
	expMult := clamp(1-currentExposure/e.cfg.MaxTotalRisk, 0, 1.0)

	winMult := 1.0
	if wr := e.snapshot().WinRate; wr > 0 {
		winMult = math.Min(1.2, wr)
	}

	size := base * signalMult * volMult * expMult * winMult
	size = math.Min(size, capital*e.cfg.MaxPositionSize)
	return e.roundQty(size)
}

// QuantityFor converts a sized notional into an asset quantity at the
// given price, floored to the tradable increment. 0 means the order is
// too small to place.
func (e *Engine) QuantityFor(notional, price float64) float64 {
	if invalid(notional) || notional <= 0 || invalid(price) || price <= 0 {
		return 0
	}
	return e.roundQty(notional / price)
}

// ComputeStops derives stop-loss, emergency stop, take-profit and trailing
// step from ATR and volatility. Reward:risk is fixed at 2:1 by policy, not
// derived. ok is false when entry or ATR are unusable.
func (e *Engine) ComputeStops(entryPrice float64, side types.Side, atr, volatility float64) (types.Stops, bool) {
	if invalid(entryPrice) || entryPrice <= 0 || invalid(atr) || atr <= 0 ||
		invalid(volatility) || volatility < 0 {
		return types.Stops{}, false
	}

	baseStop := atr * e.cfg.StopATRMultiple
	adjusted := baseStop * (1 + volatility)

	var s types.Stops
	if side == types.Short {
		s.StopLoss = entryPrice + adjusted
		s.EmergencyStop = entryPrice + adjusted*1.5
		s.TakeProfit = entryPrice - adjusted*2
	} else {
		s.StopLoss = entryPrice - adjusted
		s.EmergencyStop = entryPrice - adjusted*1.5
		s.TakeProfit = entryPrice + adjusted*2
	}
	s.TrailingStep = baseStop * 0.5
	return s, true
}

// CanOpenPosition applies the aggregate vetoes: order rate limit, total
// exposure, daily drawdown and composite risk score.
func (e *Engine) CanOpenPosition(size, capital float64, now time.Time) (bool, types.RejectReason) {
	if invalid(size) || size <= 0 || invalid(capital) || capital <= 0 {
		return false, types.ReasonInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	interval := time.Duration(e.cfg.MinOrderIntervalSec) * time.Second
	if !e.lastOrder.IsZero() && now.Sub(e.lastOrder) < interval {
		return false, types.ReasonRateLimited
	}
	if size/capital+e.metrics.Exposure > e.cfg.MaxTotalRisk {
		return false, types.ReasonExposureLimit
	}
	if e.metrics.DailyDrawdown > e.cfg.MaxDailyDrawdown {
		return false, types.ReasonDrawdownLimit
	}
	if e.metrics.RiskScore > e.cfg.RiskScoreCeiling {
		return false, types.ReasonRiskScore
	}
	return true, types.ReasonNone
}

// MarkOrderPlaced starts the rate-limit window.
func (e *Engine) MarkOrderPlaced(now time.Time) {
	e.mu.Lock()
	e.lastOrder = now
	e.mu.Unlock()
}

// UpdateMetrics recomputes exposure, daily drawdown and the risk score
// from the open book and current marks. Pure recomputation, no hidden
// counters: calling it twice with the same inputs yields the same metrics.
func (e *Engine) UpdateMetrics(positions []*types.Position, prices map[string]float64, capital float64) Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	if capital <= 0 || invalid(capital) {
		e.metrics.Exposure = 0
		e.metrics.DailyDrawdown = 0
		e.metrics.RiskScore = 0
		return e.metrics
	}

	exposure := 0.0
	unrealized := 0.0
	for _, p := range positions {
		if p == nil || p.Status != types.StatusOpen {
			continue
		}
		price, ok := prices[p.Symbol]
		if !ok {
			price = p.EntryPrice
		}
		exposure += p.Notional(price) / capital
		unrealized += (price - p.EntryPrice) * p.Quantity * p.Side.Sign()
	}

	dayPnl := e.dayRealized + unrealized
	drawdown := 0.0
	if dayPnl < 0 {
		drawdown = -dayPnl / capital
	}

	e.metrics.Exposure = exposure
	e.metrics.DailyDrawdown = drawdown

	score := (exposure/e.cfg.MaxTotalRisk)*e.cfg.ExposureWeight +
		(drawdown/e.cfg.MaxDailyDrawdown)*e.cfg.DrawdownWeight
	e.metrics.RiskScore = clamp(score, 0, 100)
	return e.metrics
}

// RecordTrade feeds a realized outcome into the bounded trade window and
// refreshes win rate, profit factor and average win/loss ratio.
func (e *Engine) RecordTrade(pnl float64) {
	if invalid(pnl) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.dayRealized += pnl
	e.trades = append(e.trades, pnl)
	if len(e.trades) > e.cfg.TradeMetricsWindow {
		e.trades = e.trades[len(e.trades)-e.cfg.TradeMetricsWindow:]
	}

	var wins int
	var grossProfit, grossLoss float64
	for _, t := range e.trades {
		if t > 0 {
			wins++
			grossProfit += t
		} else {
			grossLoss += -t
		}
	}

	total := len(e.trades)
	e.metrics.WinRate = float64(wins) / float64(total)
	if grossLoss > 0 {
		e.metrics.ProfitFactor = grossProfit / grossLoss
	} else {
		e.metrics.ProfitFactor = 0
	}

	losses := total - wins
	if wins > 0 && losses > 0 {
		avgWin := grossProfit / float64(wins)
		avgLoss := grossLoss / float64(losses)
		e.metrics.AvgWinLossRatio = avgWin / avgLoss
	} else {
		e.metrics.AvgWinLossRatio = 0
	}
}

// ShouldReduceExposure flags the book as overheated before any hard limit
// trips: score above 70 or drawdown past 80% of the daily cap.
func (e *Engine) ShouldReduceExposure() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics.RiskScore > 70 ||
		e.metrics.DailyDrawdown > e.cfg.MaxDailyDrawdown*0.8
}

// StartTradingDay resets the daily window. Win rate and profit factor
// survive the boundary; drawdown and realized day PnL do not.
func (e *Engine) StartTradingDay(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dayStart = now
	e.dayRealized = 0
	e.metrics.DailyDrawdown = 0
	e.metrics.RiskScore = clamp(
		(e.metrics.Exposure/e.cfg.MaxTotalRisk)*e.cfg.ExposureWeight, 0, 100)
}

// Snapshot returns a copy of the current metrics.
func (e *Engine) Snapshot() Metrics { return e.snapshot() }

func (e *Engine) snapshot() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// roundQty floors a raw quantity to the exchange increment: step size
// first, then decimal precision, then the minimum order size.
func (e *Engine) roundQty(raw float64) float64 {
	if raw <= 0 || invalid(raw) {
		return 0
	}
	const eps = 1e-9 // keep binary floor artifacts from eating a whole step
	q := raw
	if e.cfg.StepSize > 0 {
		q = math.Floor(q/e.cfg.StepSize+eps) * e.cfg.StepSize
	}
	pow := math.Pow(10, float64(e.cfg.QuantityPrecision))
	q = math.Floor(q*pow+eps) / pow
	if q < e.cfg.MinQty {
		return 0
	}
	return q
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func invalid(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
