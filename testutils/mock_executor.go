package testutils

import (
	"sync"

	"github.com/evdnx/gotd/types"
)

// MockExecutor implements executor.Executor and captures every submitted
// order for assertions. Fills are tracked as signed quantities; there is
// no cash accounting, use executor.PaperExecutor when equity matters.
type MockExecutor struct {
	mu        sync.RWMutex
	positions map[string]float64
	avgPrice  map[string]float64
	orders    []types.Order

	// SubmitErr, when set, is returned by every Submit call.
	SubmitErr error
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		positions: make(map[string]float64),
		avgPrice:  make(map[string]float64),
	}
}

func (m *MockExecutor) Submit(o types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	if o.Qty == 0 {
		return nil
	}

	delta := o.Qty
	if o.Side == types.Sell {
		delta = -o.Qty
	}
	m.positions[o.Symbol] += delta
	m.avgPrice[o.Symbol] = o.Price
	m.orders = append(m.orders, o)
	return nil
}

func (m *MockExecutor) Equity() float64 { return 0 }

func (m *MockExecutor) Position(symbol string) (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[symbol], m.avgPrice[symbol]
}

// Orders returns a copy of everything submitted, in order.
func (m *MockExecutor) Orders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, len(m.orders))
	copy(out, m.orders)
	return out
}
