package executor

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/evdnx/gotd/logger"
	"github.com/evdnx/gotd/types"
)

var ErrInsufficientCash = errors.New("executor: insufficient cash")

// Executor is the order-placement collaborator boundary. The decision
// engine only ever calls Submit; Equity and Position exist for paper
// trading and tests.
type Executor interface {
	Submit(o types.Order) error
	Equity() float64
	Position(symbol string) (qty float64, avgPrice float64)
}

// PaperExecutor fills every order instantly at the order price, no
// slippage, no fees. Positions are signed: positive = long, negative =
// short.
type PaperExecutor struct {
	mu        sync.Mutex
	equity    float64
	positions map[string]float64
	avgPrice  map[string]float64
	log       logger.Logger
}

func NewPaperExecutor(startEquity float64, log logger.Logger) *PaperExecutor {
	if log == nil {
		log = logger.NewNop()
	}
	return &PaperExecutor{
		equity:    startEquity,
		positions: make(map[string]float64),
		avgPrice:  make(map[string]float64),
		log:       log,
	}
}

func (p *PaperExecutor) Submit(o types.Order) error {
	if o.Qty == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cost := o.Price * o.Qty
	if o.Side == types.Buy {
		if cost > p.equity {
			return errors.Wrapf(ErrInsufficientCash, "%s qty=%v cost=%v equity=%v",
				o.Symbol, o.Qty, cost, p.equity)
		}
		p.equity -= cost
		p.applyFill(o.Symbol, o.Qty, o.Price)
	} else {
		p.equity += cost
		p.applyFill(o.Symbol, -o.Qty, o.Price)
	}

	p.log.Info("paper_fill",
		logger.String("symbol", o.Symbol),
		logger.String("side", string(o.Side)),
		logger.Float64("qty", o.Qty),
		logger.Float64("price", o.Price),
		logger.Float64("equity", p.equity),
	)
	return nil
}

// applyFill updates the signed position and its volume-weighted average
// price. Crossing through zero resets the average to the fill price.
func (p *PaperExecutor) applyFill(symbol string, deltaQty, price float64) {
	prev := p.positions[symbol]
	next := prev + deltaQty
	switch {
	case next == 0:
		delete(p.positions, symbol)
		delete(p.avgPrice, symbol)
		return
	case prev == 0 || prev*next < 0:
		// Opened flat or flipped sides: the fill price is the new basis.
		p.avgPrice[symbol] = price
	case (deltaQty > 0) == (prev > 0):
		// Adding to the same side: blend.
		p.avgPrice[symbol] = (p.avgPrice[symbol]*abs(prev) + price*abs(deltaQty)) / abs(next)
	}
	// Reducing without crossing keeps the basis untouched.
	p.positions[symbol] = next
}

func (p *PaperExecutor) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity
}

func (p *PaperExecutor) Position(symbol string) (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[symbol], p.avgPrice[symbol]
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
