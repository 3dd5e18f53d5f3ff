// Package exchangetest provides a scriptable in-memory exchange for tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// Mock implements domain.Exchange with scripted prices, manual fills, and
// error injection.
type Mock struct {
	mu sync.Mutex

	prices     map[string]decimal.Decimal
	quoteAsset map[string]string
	qtyStep    decimal.Decimal
	balances   map[string]domain.Balance
	orders     map[string]*domain.Order
	nextID     int64

	Placed   []domain.Order
	Canceled []string

	// NextErr is returned by the next trading call and then cleared.
	// PersistentErr is returned by every call until unset.
	NextErr       error
	PersistentErr error

	notReady bool
}

// New creates a Mock with a default quantity step of 0.00001.
func New() *Mock {
	return &Mock{
		prices:     map[string]decimal.Decimal{},
		quoteAsset: map[string]string{},
		qtyStep:    decimal.RequireFromString("0.00001"),
		balances:   map[string]domain.Balance{},
		orders:     map[string]*domain.Order{},
	}
}

// SetPrice scripts the current price for symbol.
func (m *Mock) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetQuoteAsset scripts the quote asset reported for symbol.
func (m *Mock) SetQuoteAsset(symbol, asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteAsset[symbol] = asset
}

// SetQtyStep overrides the lot-size step used by RoundQuantity.
func (m *Mock) SetQtyStep(step decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qtyStep = step
}

// SetBalance scripts an asset balance.
func (m *Mock) SetBalance(b domain.Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.Asset] = b
}

// SetNotReady makes Ready report false.
func (m *Mock) SetNotReady() { m.notReady = true }

// FillOrder marks an open order as filled with the given commission.
func (m *Mock) FillOrder(orderID string, commission decimal.Decimal, commissionAsset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("exchangetest: unknown order %s", orderID)
	}
	o.Status = domain.OrderFilled
	o.ExecutedQty = o.Quantity
	o.CumQuoteQty = o.Price.Mul(o.Quantity)
	o.Commission = commission
	o.CommissionAsset = commissionAsset
	return nil
}

// ExpireOrder marks an open order with the given terminal status.
func (m *Mock) ExpireOrder(orderID string, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("exchangetest: unknown order %s", orderID)
	}
	o.Status = status
	return nil
}

// OrderCount returns the number of orders still tracked as open.
func (m *Mock) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.Status == domain.OrderNew {
			n++
		}
	}
	return n
}

func (m *Mock) takeErr() error {
	if m.PersistentErr != nil {
		return m.PersistentErr
	}
	err := m.NextErr
	m.NextErr = nil
	return err
}

// Ready reports the scripted readiness.
func (m *Mock) Ready() bool { return !m.notReady }

// Ping fails only with an injected error.
func (m *Mock) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeErr()
}

// CurrentPrice returns the scripted price.
func (m *Mock) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return decimal.Zero, err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("exchangetest: no price for %s", symbol)
	}
	return p, nil
}

// CreateLimitOrder records and opens a new order.
func (m *Mock) CreateLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, quantity decimal.Decimal) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return domain.Order{}, err
	}

	m.nextID++
	o := domain.Order{
		OrderID:       fmt.Sprintf("%d", m.nextID),
		ClientOrderID: fmt.Sprintf("mock-%d", m.nextID),
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Quantity:      quantity,
		Status:        domain.OrderNew,
	}
	m.orders[o.OrderID] = &o
	m.Placed = append(m.Placed, o)
	return o, nil
}

// GetOrder returns the order's current state.
func (m *Mock) GetOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return domain.Order{}, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, &domain.ExchangeError{Kind: domain.ErrKindOrderGone, Code: -2013, Message: "order does not exist"}
	}
	return *o, nil
}

// OpenOrders lists orders still open for symbol.
func (m *Mock) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	var out []domain.Order
	for _, o := range m.orders {
		if o.Symbol == symbol && o.Status == domain.OrderNew {
			out = append(out, *o)
		}
	}
	return out, nil
}

// CancelOrder cancels an open order; orders already off the book map to
// ErrKindOrderGone like the real venue.
func (m *Mock) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return err
	}
	m.Canceled = append(m.Canceled, orderID)
	o, ok := m.orders[orderID]
	if !ok || o.Status != domain.OrderNew {
		return &domain.ExchangeError{Kind: domain.ErrKindOrderGone, Code: -2011, Message: "unknown order sent"}
	}
	o.Status = domain.OrderCanceled
	return nil
}

// AssetBalance returns the scripted balance.
func (m *Mock) AssetBalance(ctx context.Context, asset string) (domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return domain.Balance{}, err
	}
	return m.balances[asset], nil
}

// RoundQuantity floors qty to the configured step.
func (m *Mock) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.qtyStep.Sign() <= 0 {
		return qty, nil
	}
	return qty.Div(m.qtyStep).Floor().Mul(m.qtyStep), nil
}

// QuoteAsset returns the scripted quote asset, defaulting to USDT.
func (m *Mock) QuoteAsset(ctx context.Context, symbol string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.quoteAsset[symbol]; ok {
		return a, nil
	}
	return "USDT", nil
}

// Compile-time interface check.
var _ domain.Exchange = (*Mock)(nil)
