// Package engine composes the decision pipeline behind a single façade:
// the pattern gate decides whether a signal combination is trustworthy,
// the risk engine sizes and vetoes, the ledger owns position lifecycle
// and the executor receives the resulting orders.
package engine

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/evdnx/gotd/config"
	"github.com/evdnx/gotd/executor"
	"github.com/evdnx/gotd/gate"
	"github.com/evdnx/gotd/ledger"
	"github.com/evdnx/gotd/logger"
	"github.com/evdnx/gotd/metrics"
	"github.com/evdnx/gotd/pattern"
	"github.com/evdnx/gotd/risk"
	"github.com/evdnx/gotd/store"
	"github.com/evdnx/gotd/types"
)

// Engine is the trade-decision entry point. Decision evaluation and price
// ticks may arrive from different goroutines; the collaborators carry
// their own locks and the engine only guards its day-rollover state.
type Engine struct {
	cfg config.EngineConfig
	log logger.Logger

	mem  *pattern.Memory
	gate *gate.Gate
	rsk  *risk.Engine
	ldg  *ledger.Ledger
	exec executor.Executor

	mu  sync.Mutex
	now func() time.Time
	day time.Time // UTC midnight of the current trading day
}

// New validates the configuration and wires the collaborators together.
// exec may be nil for decision-only use; orders are then skipped.
func New(cfg config.EngineConfig, capital float64, exec executor.Executor, log logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "engine: config")
	}
	if capital <= 0 {
		return nil, errors.New("engine: capital must be positive")
	}
	if log == nil {
		log = logger.NewNop()
	}

	mem := pattern.NewMemory(cfg.RecentOutcomeWindow)
	rsk := risk.NewEngine(cfg)

	e := &Engine{
		cfg:  cfg,
		log:  log,
		mem:  mem,
		gate: gate.New(cfg, mem),
		rsk:  rsk,
		ldg:  ledger.New(mem, rsk, log, capital),
		exec: exec,
		now:  time.Now,
	}
	e.day = dayOf(e.now())
	rsk.StartTradingDay(e.now())

	// Exits realized by the ledger still have to reach the market. The
	// hook fires under the ledger lock, so it only submits and logs.
	e.ldg.SetCloseHook(func(rec types.TradeRecord) {
		if e.exec == nil {
			return
		}
		o := types.Order{
			Symbol:  rec.Symbol,
			Side:    closingSide(rec.Side),
			Qty:     rec.Quantity,
			Price:   rec.ExitPrice,
			Comment: "exit:" + string(rec.Reason),
		}
		if err := e.exec.Submit(o); err != nil {
			e.log.Error("exit_order_failed",
				logger.String("symbol", rec.Symbol),
				logger.Err(err),
			)
		}
	})
	return e, nil
}

// EvaluateTrade runs the full decision pipeline for one symbol. The checks
// are ordered cheapest-first and every rejection carries the reason so
// callers can tell a pattern veto from a risk veto.
func (e *Engine) EvaluateTrade(symbol string, signals []types.Signal, mkt types.MarketContext) types.TradeDecision {
	e.rollDay()

	if symbol == "" || mkt.Price <= 0 {
		return e.reject(symbol, types.TradeDecision{Reason: types.ReasonInvalidInput})
	}
	if e.ldg.HasOpen(symbol) {
		return e.reject(symbol, types.TradeDecision{Reason: types.ReasonPositionOpen})
	}

	d := e.gate.Evaluate(signals)
	if !d.Approved {
		return e.reject(symbol, d)
	}

	capital := e.ldg.Capital()
	exposure := e.rsk.Snapshot().Exposure
	notional := e.rsk.SizePosition(capital, mkt.SignalStrength, mkt.Volatility, exposure)
	if notional <= 0 {
		return e.reject(symbol, types.TradeDecision{Reason: types.ReasonInsufficientSize, Pattern: d.Pattern})
	}

	now := e.now()
	if ok, reason := e.rsk.CanOpenPosition(notional, capital, now); !ok {
		return e.reject(symbol, types.TradeDecision{Reason: reason, Pattern: d.Pattern})
	}

	qty := e.rsk.QuantityFor(notional, mkt.Price)
	if qty <= 0 {
		return e.reject(symbol, types.TradeDecision{Reason: types.ReasonInsufficientSize, Pattern: d.Pattern})
	}

	side := types.Long
	if mkt.SignalStrength < 0 {
		side = types.Short
	}
	stops, ok := e.rsk.ComputeStops(mkt.Price, side, mkt.ATR, mkt.Volatility)
	if !ok {
		return e.reject(symbol, types.TradeDecision{Reason: types.ReasonInvalidInput, Pattern: d.Pattern})
	}

	// The ledger reserves the symbol before the order goes out, so two
	// racing decisions cannot both reach the executor. A rejected order
	// aborts the reservation without any trade bookkeeping.
	if _, err := e.ldg.Open(symbol, side, qty, mkt.Price, stops, d.Pattern, now); err != nil {
		e.log.Error("position_open_failed", logger.String("symbol", symbol), logger.Err(err))
		return e.reject(symbol, types.TradeDecision{Reason: types.ReasonPositionOpen, Pattern: d.Pattern})
	}
	if e.exec != nil {
		o := types.Order{
			Symbol:  symbol,
			Side:    openingSide(side),
			Qty:     qty,
			Price:   mkt.Price,
			Comment: "entry:" + d.Pattern,
		}
		if err := e.exec.Submit(o); err != nil {
			e.log.Warn("entry_order_rejected",
				logger.String("symbol", symbol),
				logger.Float64("qty", qty),
				logger.Err(err),
			)
			if abortErr := e.ldg.Abort(symbol); abortErr != nil {
				e.log.Error("entry_abort_failed", logger.String("symbol", symbol), logger.Err(abortErr))
			}
			return e.reject(symbol, types.TradeDecision{Reason: types.ReasonOrderRejected, Pattern: d.Pattern})
		}
	}
	e.rsk.MarkOrderPlaced(now)

	metrics.Decisions.WithLabelValues("approved", "").Inc()
	e.log.Info("trade_approved",
		logger.String("symbol", symbol),
		logger.String("side", string(side)),
		logger.String("pattern", d.Pattern),
		logger.Float64("qty", qty),
		logger.Float64("notional", notional),
	)
	return types.TradeDecision{
		Approved: true,
		Pattern:  d.Pattern,
		Quantity: qty,
		Stops:    stops,
	}
}

// OnPriceTick advances the lifecycle of whatever is open on symbol.
func (e *Engine) OnPriceTick(symbol string, price float64) {
	e.rollDay()
	e.ldg.OnPriceTick(symbol, price, e.now())
}

// ClosePosition force-closes an open position at the given price.
func (e *Engine) ClosePosition(symbol string, price float64) (types.TradeRecord, error) {
	return e.ldg.Close(symbol, price, types.ExitManual, e.now())
}

func (e *Engine) PortfolioSummary() ledger.PortfolioSummary { return e.ldg.Summary() }

func (e *Engine) PatternReport() []pattern.ReportEntry { return e.mem.Report() }

func (e *Engine) RiskMetrics() risk.Metrics { return e.rsk.Snapshot() }

func (e *Engine) History() []types.TradeRecord { return e.ldg.History() }

// ShouldReduceExposure mirrors the risk engine's de-risk advice.
func (e *Engine) ShouldReduceExposure() bool { return e.rsk.ShouldReduceExposure() }

// SaveTo snapshots the durable state: learned patterns, open positions,
// trade history and capital.
func (e *Engine) SaveTo(s *store.Store) error {
	open := e.ldg.OpenPositions()
	positions := make([]types.Position, 0, len(open))
	for _, p := range open {
		positions = append(positions, *p)
	}
	return s.Save(&store.State{
		Capital:   e.ldg.Capital(),
		Patterns:  e.mem.Snapshot(),
		Positions: positions,
		History:   e.ldg.History(),
	})
}

// RestoreFrom loads a snapshot if one exists. It returns false with a nil
// error when there is nothing to restore.
func (e *Engine) RestoreFrom(s *store.Store) (bool, error) {
	st, ok, err := s.Load()
	if err != nil || !ok {
		return false, err
	}
	e.mem.Restore(st.Patterns)
	e.ldg.Restore(st.Positions, st.History, st.Capital)
	e.log.Info("state_restored",
		logger.Int("patterns", e.mem.Len()),
		logger.Int("positions", len(st.Positions)),
		logger.Float64("capital", st.Capital),
	)
	return true, nil
}

// rollDay resets the daily drawdown window when the UTC date changes.
func (e *Engine) rollDay() {
	now := e.now()
	day := dayOf(now)

	e.mu.Lock()
	if day.Equal(e.day) {
		e.mu.Unlock()
		return
	}
	e.day = day
	e.mu.Unlock()

	e.rsk.StartTradingDay(now)
	e.log.Info("trading_day_started", logger.String("day", day.Format("2006-01-02")))
}

func (e *Engine) reject(symbol string, d types.TradeDecision) types.TradeDecision {
	d.Approved = false
	metrics.Decisions.WithLabelValues("rejected", string(d.Reason)).Inc()
	e.log.Info("trade_rejected",
		logger.String("symbol", symbol),
		logger.String("reason", string(d.Reason)),
		logger.String("pattern", d.Pattern),
	)
	return d
}

func openingSide(s types.Side) types.OrderSide {
	if s == types.Short {
		return types.Sell
	}
	return types.Buy
}

func closingSide(s types.Side) types.OrderSide {
	if s == types.Short {
		return types.Buy
	}
	return types.Sell
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
