package testutils

import (
	"sync"

	"github.com/evdnx/gopairs/types"
)

// MockExecutor implements the Executor interface in-memory. Fills are perfect
// and cash is never checked; every order is captured for assertions.
type MockExecutor struct {
	mu        sync.RWMutex
	equity    float64
	positions map[string]types.Position
	orders    []types.Order // captured for assertions
	// FailSymbols rejects orders for these symbols with ErrRejected.
	FailSymbols map[string]bool
}

// NewMockExecutor creates a fresh executor with the supplied starting equity.
func NewMockExecutor(startEquity float64) *MockExecutor {
	return &MockExecutor{
		equity:      startEquity,
		positions:   make(map[string]types.Position),
		FailSymbols: make(map[string]bool),
	}
}

// Submit records the order and moves the signed position; equity stays constant.
func (m *MockExecutor) Submit(o types.Order) error {
	if o.Qty == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSymbols[o.Symbol] {
		return ErrRejected
	}

	pos := m.positions[o.Symbol]
	delta := o.Qty
	if o.Side == types.Sell {
		delta = -o.Qty
	}
	pos.Qty += delta
	if pos.Qty == 0 {
		delete(m.positions, o.Symbol)
	} else {
		pos.AvgPrice = o.Price
		m.positions[o.Symbol] = pos
	}
	m.orders = append(m.orders, o)
	return nil
}

// SetPosition seeds a holding directly.
func (m *MockExecutor) SetPosition(sym string, qty, avg float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[sym] = types.Position{Qty: qty, AvgPrice: avg}
}

// Equity returns the fixed equity.
func (m *MockExecutor) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// Position returns qty & avg price for a symbol.
func (m *MockExecutor) Position(symbol string) (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.positions[symbol]
	return p.Qty, p.AvgPrice
}

func (m *MockExecutor) Positions() map[string]types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Position, len(m.positions))
	for k, v := range m.positions {
		out[k] = v
	}
	return out
}

// Orders returns a copy of all submitted orders (useful for assertions).
func (m *MockExecutor) Orders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, len(m.orders))
	copy(out, m.orders)
	return out
}
