package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

const (
	// placePacing spaces order placements so a large grid does not burn
	// the request-weight budget in one burst.
	placePacing = 200 * time.Millisecond
	// pollPacing spaces per-order status queries within a tick.
	pollPacing = 100 * time.Millisecond
)

// Grid trades a symmetric limit-order grid: buys below the current price,
// sells above it, and replenishes the opposite side one step away whenever
// an order fills.
type Grid struct {
	exchange domain.Exchange
	rec      Recorder
	cfg      domain.GridConfig
	params   *RuntimeParams
	logger   *slog.Logger

	mu           sync.Mutex
	pendingBuys  map[string]domain.Order
	pendingSells map[string]domain.Order
}

// NewGrid creates a grid strategy.
func NewGrid(exchange domain.Exchange, rec Recorder, cfg domain.GridConfig, params *RuntimeParams, logger *slog.Logger) *Grid {
	return &Grid{
		exchange:     exchange,
		rec:          rec,
		cfg:          cfg,
		params:       params,
		logger:       logger.With(slog.String("component", "grid"), slog.String("symbol", cfg.Symbol)),
		pendingBuys:  map[string]domain.Order{},
		pendingSells: map[string]domain.Order{},
	}
}

// Init cancels anything still tracked and places the full grid around the
// current price. A price fetch failure is fatal; the worker reports it as
// a start failure.
func (g *Grid) Init(ctx context.Context) error {
	g.CancelAll(ctx)

	price, err := g.exchange.CurrentPrice(ctx, g.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("grid: initial price: %w", err)
	}
	g.placeGrid(ctx, price)
	return nil
}

// placeGrid places one limit order per grid line: buys below price, sells
// above it. The line equal to the current price is skipped. A placement
// failure is logged and the remaining lines are still placed.
func (g *Grid) placeGrid(ctx context.Context, price decimal.Decimal) {
	placed := 0
	for _, line := range g.cfg.Lines() {
		if line.Equal(price) {
			continue
		}
		side := domain.SideBuy
		if line.GreaterThan(price) {
			side = domain.SideSell
		}
		if err := g.placeLevel(ctx, side, line); err != nil {
			g.logger.Warn("level not placed",
				slog.String("price", line.String()),
				slog.Any("error", err))
		} else {
			placed++
		}
		time.Sleep(placePacing)
	}
	g.logger.Info("grid placed",
		slog.Int("orders", placed),
		slog.String("price", price.String()))
}

// placeLevel places one order at the given price line. Quantities that
// round down to zero at the venue's lot step are skipped.
func (g *Grid) placeLevel(ctx context.Context, side domain.OrderSide, line decimal.Decimal) error {
	qty, err := g.exchange.RoundQuantity(ctx, g.cfg.Symbol, g.orderAmountUSD().Div(line))
	if err != nil {
		return fmt.Errorf("grid: round quantity: %w", err)
	}
	if qty.Sign() <= 0 {
		g.logger.Warn("skipping level, quantity rounds to zero", slog.String("price", line.String()))
		return nil
	}

	order, err := g.exchange.CreateLimitOrder(ctx, g.cfg.Symbol, side, line, qty)
	if err != nil {
		return fmt.Errorf("grid: place %s at %s: %w", side, line, err)
	}

	g.mu.Lock()
	if side == domain.SideBuy {
		g.pendingBuys[order.OrderID] = order
	} else {
		g.pendingSells[order.OrderID] = order
	}
	g.mu.Unlock()
	return nil
}

// Tick polls every tracked order. Fills are recorded and replenished on
// the opposite side; orders that left the book unfilled are dropped, so
// the grid thins until both sides drain and the full grid is re-placed.
func (g *Grid) Tick(ctx context.Context) error {
	g.mu.Lock()
	if len(g.pendingBuys) == 0 && len(g.pendingSells) == 0 {
		g.mu.Unlock()
		price, err := g.exchange.CurrentPrice(ctx, g.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("grid: refresh price: %w", err)
		}
		g.placeGrid(ctx, price)
		return nil
	}
	tracked := make([]domain.Order, 0, len(g.pendingBuys)+len(g.pendingSells))
	for _, o := range g.pendingBuys {
		tracked = append(tracked, o)
	}
	for _, o := range g.pendingSells {
		tracked = append(tracked, o)
	}
	g.mu.Unlock()

	for i, o := range tracked {
		if i > 0 {
			time.Sleep(pollPacing)
		}

		current, err := g.exchange.GetOrder(ctx, g.cfg.Symbol, o.OrderID)
		if err != nil {
			if domain.IsOrderGone(err) {
				g.remove(o)
				continue
			}
			return fmt.Errorf("grid: poll order %s: %w", o.OrderID, err)
		}

		switch {
		case current.Status == domain.OrderFilled:
			g.remove(o)
			g.onFill(ctx, current)
		case current.Status.Gone():
			g.logger.Info("order left the book",
				slog.String("order_id", o.OrderID),
				slog.String("status", string(current.Status)))
			g.remove(o)
		}
	}
	return nil
}

func (g *Grid) remove(o domain.Order) {
	g.mu.Lock()
	delete(g.pendingBuys, o.OrderID)
	delete(g.pendingSells, o.OrderID)
	g.mu.Unlock()
}

// onFill records the trade and replenishes the opposite side one step
// away, bounded by the grid's price range.
func (g *Grid) onFill(ctx context.Context, o domain.Order) {
	g.logger.Info("order filled",
		slog.String("order_id", o.OrderID),
		slog.String("side", string(o.Side)),
		slog.String("price", o.Price.String()))

	g.rec.RecordTrade(ctx, g.fillTrade(ctx, o))

	step := g.cfg.Step()
	var side domain.OrderSide
	var line decimal.Decimal
	if o.Side == domain.SideBuy {
		side, line = domain.SideSell, o.Price.Add(step)
		if line.GreaterThan(g.cfg.UpperPrice) {
			return
		}
	} else {
		side, line = domain.SideBuy, o.Price.Sub(step)
		if line.LessThan(g.cfg.LowerPrice) {
			return
		}
	}
	if err := g.placeLevel(ctx, side, line); err != nil {
		g.logger.Warn("replenish failed", slog.Any("error", err))
	}
}

// fillTrade builds the trade record for a filled order. Sell fills realize
// one grid step per unit as profit; the matching buy a step below is the
// implicit cost basis. Commission is deducted only when it is charged in
// the quote asset.
func (g *Grid) fillTrade(ctx context.Context, o domain.Order) domain.Trade {
	t := domain.Trade{
		OrderID:         o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Price:           o.Price,
		Quantity:        o.ExecutedQty,
		QuoteQuantity:   o.CumQuoteQty,
		Commission:      o.Commission,
		CommissionAsset: o.CommissionAsset,
		Timestamp:       time.Now().UTC(),
	}
	if o.Side != domain.SideSell {
		return t
	}

	pnl := g.cfg.Step().Mul(o.ExecutedQty)
	if o.Commission.Sign() > 0 {
		if quote, err := g.exchange.QuoteAsset(ctx, g.cfg.Symbol); err == nil && quote == o.CommissionAsset {
			pnl = pnl.Sub(o.Commission)
		}
	}
	t.PnlUSD = &pnl
	return t
}

// CancelAll cancels every tracked order, tolerating those already gone,
// and clears the tracking maps.
func (g *Grid) CancelAll(ctx context.Context) {
	g.mu.Lock()
	ids := make([]string, 0, len(g.pendingBuys)+len(g.pendingSells))
	for id := range g.pendingBuys {
		ids = append(ids, id)
	}
	for id := range g.pendingSells {
		ids = append(ids, id)
	}
	g.pendingBuys = map[string]domain.Order{}
	g.pendingSells = map[string]domain.Order{}
	g.mu.Unlock()

	for _, id := range ids {
		if err := g.exchange.CancelOrder(ctx, g.cfg.Symbol, id); err != nil && !domain.IsOrderGone(err) {
			g.logger.Warn("cancel failed", slog.String("order_id", id), slog.Any("error", err))
		}
	}
	if len(ids) > 0 {
		g.logger.Info("cancelled tracked orders", slog.Int("count", len(ids)))
	}
}

// Adapt overlays analyzer-suggested parameters on the runtime view.
func (g *Grid) Adapt(overrides map[string]any) {
	g.params.Apply(overrides)
}

// Pending returns the tracked order counts per side.
func (g *Grid) Pending() (buys, sells int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pendingBuys), len(g.pendingSells)
}

func (g *Grid) orderAmountUSD() decimal.Decimal {
	if d, ok := g.params.Decimal("order_amount_usd"); ok && d.Sign() > 0 {
		return d
	}
	return g.cfg.OrderAmountUSD
}

// Compile-time interface check.
var _ Strategy = (*Grid)(nil)
