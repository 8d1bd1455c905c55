package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evdnx/gotd/logger"
	"github.com/evdnx/gotd/metrics"
	"github.com/evdnx/gotd/pattern"
	"github.com/evdnx/gotd/risk"
	"github.com/evdnx/gotd/types"
)

var (
	ErrInvalidInput   = errors.New("ledger: invalid input")
	ErrNotFound       = errors.New("ledger: position not found")
	ErrPositionExists = errors.New("ledger: position already open on symbol")
)

// book is the ledger's per-position working state. initial keeps the entry
// stops so the trailing ratchet has a fixed baseline while Stops.StopLoss
// advances.
type book struct {
	pos       *types.Position
	initial   types.Stops
	lastPrice float64
}

// PortfolioSummary is a pure read over the current book, never cached.
type PortfolioSummary struct {
	OpenCount          int     `json:"open_count"`
	TotalExposure      float64 `json:"total_exposure"`
	TotalUnrealizedPnl float64 `json:"total_unrealized_pnl"`
	TotalRealizedPnl   float64 `json:"total_realized_pnl"`
}

// Ledger owns the set of open positions: it updates unrealized PnL on
// price ticks, enforces exit conditions and realizes PnL on close, feeding
// every outcome back into the pattern memory and the risk engine. One
// position per symbol; a position never reopens, a new trade creates a new
// one. Price-tick and decision processing may run on separate goroutines;
// both serialize through the ledger's single mutex.
type Ledger struct {
	mu sync.Mutex

	open     map[string]*book
	history  []types.TradeRecord
	capital  float64
	realized float64

	mem     *pattern.Memory
	rsk     *risk.Engine
	log     logger.Logger
	onClose func(types.TradeRecord)
}

func New(mem *pattern.Memory, rsk *risk.Engine, log logger.Logger, capital float64) *Ledger {
	if log == nil {
		log = logger.NewNop()
	}
	return &Ledger{
		open:    make(map[string]*book),
		capital: capital,
		mem:     mem,
		rsk:     rsk,
		log:     log,
	}
}

// SetCloseHook registers a callback fired for every realized close,
// automatic or manual. It runs under the ledger lock, so the hook must
// not call back into the ledger; submitting an exit order is the
// intended use.
func (l *Ledger) SetCloseHook(fn func(types.TradeRecord)) {
	l.mu.Lock()
	l.onClose = fn
	l.mu.Unlock()
}

// Open creates a position from an approved decision. The pattern key is
// frozen at entry so the outcome feedback targets what was actually seen.
func (l *Ledger) Open(symbol string, side types.Side, qty, entryPrice float64,
	stops types.Stops, patternKey string, now time.Time) (*types.Position, error) {

	if qty <= 0 || entryPrice <= 0 || symbol == "" {
		return nil, errors.Wrapf(ErrInvalidInput, "open %s qty=%v entry=%v", symbol, qty, entryPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.open[symbol]; exists {
		return nil, errors.Wrap(ErrPositionExists, symbol)
	}

	p := &types.Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entryPrice,
		Quantity:   qty,
		EntryTime:  now,
		Stops:      stops,
		Pattern:    patternKey,
		Status:     types.StatusOpen,
	}
	l.open[symbol] = &book{pos: p, initial: stops, lastPrice: entryPrice}
	metrics.PositionsOpen.Set(float64(len(l.open)))

	l.log.Info("position_opened",
		logger.String("symbol", symbol),
		logger.String("side", string(side)),
		logger.Float64("qty", qty),
		logger.Float64("entry", entryPrice),
		logger.Float64("stop_loss", stops.StopLoss),
		logger.Float64("take_profit", stops.TakeProfit),
	)

	out := *p
	return &out, nil
}

// OnPriceTick re-marks the open position on symbol, advances the trailing
// stop and closes the position when an exit condition fires. Exit priority
// is fixed: emergency stop first, then stop-loss, then take-profit, so a
// tick breaching both stop and target resolves toward protection. A tick
// for a symbol with no open position is a no-op.
func (l *Ledger) OnPriceTick(symbol string, price float64, now time.Time) {
	if price <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.open[symbol]
	if !ok {
		return
	}

	p := b.pos
	b.lastPrice = price
	p.UnrealizedPnl = (price - p.EntryPrice) * p.Quantity * p.Side.Sign()

	l.trail(b, price)

	if reason, hit := exitCondition(p, price); hit {
		l.closeLocked(b, price, reason, now)
	}
	l.refreshRiskLocked()
}

// trail ratchets the stop-loss toward price in whole TrailingStep
// increments measured from entry. The stop only ever tightens.
func (l *Ledger) trail(b *book, price float64) {
	step := b.initial.TrailingStep
	if step <= 0 {
		return
	}
	p := b.pos

	move := (price - p.EntryPrice) * p.Side.Sign()
	steps := int(move / step)
	if steps < 1 {
		return
	}

	candidate := b.initial.StopLoss + float64(steps)*step*p.Side.Sign()
	if p.Side == types.Long && candidate > p.Stops.StopLoss {
		p.Stops.StopLoss = candidate
	} else if p.Side == types.Short && candidate < p.Stops.StopLoss {
		p.Stops.StopLoss = candidate
	}
}

// exitCondition checks the protective levels in fixed priority.
func exitCondition(p *types.Position, price float64) (types.ExitReason, bool) {
	if p.Side == types.Short {
		switch {
		case p.Stops.EmergencyStop > 0 && price >= p.Stops.EmergencyStop:
			return types.ExitEmergencyStop, true
		case p.Stops.StopLoss > 0 && price >= p.Stops.StopLoss:
			return types.ExitStopLoss, true
		case p.Stops.TakeProfit > 0 && price <= p.Stops.TakeProfit:
			return types.ExitTakeProfit, true
		}
		return "", false
	}
	switch {
	case p.Stops.EmergencyStop > 0 && price <= p.Stops.EmergencyStop:
		return types.ExitEmergencyStop, true
	case p.Stops.StopLoss > 0 && price <= p.Stops.StopLoss:
		return types.ExitStopLoss, true
	case p.Stops.TakeProfit > 0 && price >= p.Stops.TakeProfit:
		return types.ExitTakeProfit, true
	}
	return "", false
}

// Close is the manual/forced path with the same bookkeeping as an
// automatic exit.
func (l *Ledger) Close(symbol string, exitPrice float64, reason types.ExitReason, now time.Time) (types.TradeRecord, error) {
	if exitPrice <= 0 {
		return types.TradeRecord{}, errors.Wrapf(ErrInvalidInput, "close %s at %v", symbol, exitPrice)
	}
	if reason == "" {
		reason = types.ExitManual
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.open[symbol]
	if !ok {
		return types.TradeRecord{}, errors.Wrap(ErrNotFound, symbol)
	}
	rec := l.closeLocked(b, exitPrice, reason, now)
	l.refreshRiskLocked()
	return rec, nil
}

// Abort removes an open position without any bookkeeping: no history
// record, no pattern or risk feedback, no exit order. It unwinds an entry
// whose order never reached the market, so the book and the executor stay
// in agreement.
func (l *Ledger) Abort(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.open[symbol]; !ok {
		return errors.Wrap(ErrNotFound, symbol)
	}
	delete(l.open, symbol)
	metrics.PositionsOpen.Set(float64(len(l.open)))
	l.log.Warn("position_aborted", logger.String("symbol", symbol))
	return nil
}

// closeLocked realizes the position atomically under the ledger lock:
// history, capital, pattern feedback and risk feedback all move together.
func (l *Ledger) closeLocked(b *book, exitPrice float64, reason types.ExitReason, now time.Time) types.TradeRecord {
	p := b.pos
	realized := (exitPrice - p.EntryPrice) * p.Quantity * p.Side.Sign()

	p.Status = types.StatusClosed
	p.UnrealizedPnl = 0
	delete(l.open, p.Symbol)

	rec := types.TradeRecord{
		ID:          uuid.NewString(),
		Symbol:      p.Symbol,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    p.Quantity,
		RealizedPnl: realized,
		Reason:      reason,
		Pattern:     p.Pattern,
		EntryTime:   p.EntryTime,
		ExitTime:    now,
	}
	l.history = append(l.history, rec)
	l.realized += realized
	l.capital += realized

	if l.mem != nil {
		l.mem.RecordOutcome(pattern.Key(p.Pattern), realized)
	}
	if l.rsk != nil {
		l.rsk.RecordTrade(realized)
	}

	result := "loss"
	if realized > 0 {
		result = "win"
	}
	metrics.Trades.WithLabelValues(result).Inc()
	metrics.ExitReasons.WithLabelValues(string(reason)).Inc()
	metrics.RealizedPnl.Set(l.realized)
	metrics.PositionsOpen.Set(float64(len(l.open)))
	if l.mem != nil {
		metrics.PatternsTracked.Set(float64(l.mem.Len()))
	}

	l.log.Info("position_closed",
		logger.String("symbol", p.Symbol),
		logger.String("reason", string(reason)),
		logger.Float64("exit", exitPrice),
		logger.Float64("realized_pnl", realized),
	)

	if l.onClose != nil {
		l.onClose(rec)
	}
	return rec
}

// refreshRiskLocked pushes the current book and marks into the risk
// engine. Called with the ledger lock held; lock ordering is always
// ledger -> risk.
func (l *Ledger) refreshRiskLocked() {
	if l.rsk == nil {
		return
	}
	positions := make([]*types.Position, 0, len(l.open))
	marks := make(map[string]float64, len(l.open))
	for sym, b := range l.open {
		positions = append(positions, b.pos)
		marks[sym] = b.lastPrice
	}
	m := l.rsk.UpdateMetrics(positions, marks, l.capital)
	metrics.Exposure.Set(m.Exposure)
	metrics.RiskScore.Set(m.RiskScore)
}

// Summary computes the portfolio aggregates from the live book.
func (l *Ledger) Summary() PortfolioSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := PortfolioSummary{
		OpenCount:        len(l.open),
		TotalRealizedPnl: l.realized,
	}
	for _, b := range l.open {
		s.TotalExposure += b.pos.Notional(b.lastPrice)
		s.TotalUnrealizedPnl += b.pos.UnrealizedPnl
	}
	return s
}

// OpenPositions returns copies of the open book.
func (l *Ledger) OpenPositions() []*types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*types.Position, 0, len(l.open))
	for _, b := range l.open {
		p := *b.pos
		out = append(out, &p)
	}
	return out
}

// HasOpen reports whether symbol currently carries a position.
func (l *Ledger) HasOpen(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.open[symbol]
	return ok
}

// History returns a copy of the closed-trade records, oldest first.
func (l *Ledger) History() []types.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Capital returns the current account capital (initial plus realized).
func (l *Ledger) Capital() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capital
}

// Restore reloads persisted state, replacing the current book and trade
// history. Closed records in the positions input are ignored; the realized
// total is rebuilt from the history so Summary stays consistent with the
// restored capital.
func (l *Ledger) Restore(positions []types.Position, history []types.TradeRecord, capital float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.open = make(map[string]*book, len(positions))
	l.capital = capital
	for i := range positions {
		p := positions[i]
		if p.Status != types.StatusOpen || p.Quantity <= 0 {
			continue
		}
		l.open[p.Symbol] = &book{pos: &p, initial: p.Stops, lastPrice: p.EntryPrice}
	}

	l.history = make([]types.TradeRecord, len(history))
	copy(l.history, history)
	l.realized = 0
	for _, rec := range l.history {
		l.realized += rec.RealizedPnl
	}
	metrics.PositionsOpen.Set(float64(len(l.open)))
}
