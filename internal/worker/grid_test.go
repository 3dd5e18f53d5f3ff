package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/exchange/exchangetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// recorderStub captures trades handed to the worker's persistence path.
type recorderStub struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (r *recorderStub) RecordTrade(ctx context.Context, t domain.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
}

func (r *recorderStub) all() []domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Trade(nil), r.trades...)
}

func gridFixture(t *testing.T) (*Grid, *exchangetest.Mock, *recorderStub) {
	t.Helper()
	ex := exchangetest.New()
	ex.SetPrice("BTCUSDT", d("64500"))
	rec := &recorderStub{}
	cfg := domain.GridConfig{
		Symbol:         "BTCUSDT",
		LowerPrice:     d("60000"),
		UpperPrice:     d("70000"),
		GridLevels:     6, // step 2000: 60000 62000 64000 66000 68000 70000
		OrderAmountUSD: d("100"),
	}
	g := NewGrid(ex, rec, cfg, NewRuntimeParams(nil), testLogger())
	return g, ex, rec
}

func TestGridInitPlacesBothSides(t *testing.T) {
	g, ex, _ := gridFixture(t)
	require.NoError(t, g.Init(context.Background()))

	buys, sells := g.Pending()
	assert.Equal(t, 3, buys)  // 60000 62000 64000
	assert.Equal(t, 3, sells) // 66000 68000 70000
	assert.Equal(t, 6, ex.OrderCount())

	for _, o := range ex.Placed {
		if o.Price.LessThan(d("64500")) {
			assert.Equal(t, domain.SideBuy, o.Side, "price %s", o.Price)
		} else {
			assert.Equal(t, domain.SideSell, o.Side, "price %s", o.Price)
		}
	}
}

func TestGridSkipsLineAtCurrentPrice(t *testing.T) {
	g, ex, _ := gridFixture(t)
	ex.SetPrice("BTCUSDT", d("64000"))
	require.NoError(t, g.Init(context.Background()))

	buys, sells := g.Pending()
	assert.Equal(t, 2, buys)
	assert.Equal(t, 3, sells)
	for _, o := range ex.Placed {
		assert.False(t, o.Price.Equal(d("64000")), "line at market price must not be placed")
	}
}

func TestGridBuyFillReplenishesSell(t *testing.T) {
	g, ex, rec := gridFixture(t)
	ctx := context.Background()
	require.NoError(t, g.Init(ctx))

	var buyID string
	for _, o := range ex.Placed {
		if o.Price.Equal(d("64000")) {
			buyID = o.OrderID
		}
	}
	require.NotEmpty(t, buyID)
	require.NoError(t, ex.FillOrder(buyID, decimal.Zero, ""))

	require.NoError(t, g.Tick(ctx))

	trades := rec.all()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Nil(t, trades[0].PnlUSD, "buy fills realize nothing")
	assert.NotEmpty(t, trades[0].ClientOrderID, "fill carries the client order id")

	// A replacement sell lands one step above the fill.
	last := ex.Placed[len(ex.Placed)-1]
	assert.Equal(t, domain.SideSell, last.Side)
	assert.True(t, last.Price.Equal(d("66000")), "got %s", last.Price)

	buys, sells := g.Pending()
	assert.Equal(t, 2, buys)
	assert.Equal(t, 4, sells)
}

func TestGridSellFillRealizesStepMinusCommission(t *testing.T) {
	g, ex, rec := gridFixture(t)
	ctx := context.Background()
	require.NoError(t, g.Init(ctx))

	var sell domain.Order
	for _, o := range ex.Placed {
		if o.Price.Equal(d("66000")) {
			sell = o
		}
	}
	require.NotEmpty(t, sell.OrderID)
	require.NoError(t, ex.FillOrder(sell.OrderID, d("0.01"), "USDT"))

	require.NoError(t, g.Tick(ctx))

	trades := rec.all()
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].PnlUSD)
	want := d("2000").Mul(sell.Quantity).Sub(d("0.01"))
	assert.True(t, trades[0].PnlUSD.Equal(want), "pnl %s, want %s", trades[0].PnlUSD, want)

	// The replacement buy lands one step below.
	last := ex.Placed[len(ex.Placed)-1]
	assert.Equal(t, domain.SideBuy, last.Side)
	assert.True(t, last.Price.Equal(d("64000")))
}

func TestGridBaseAssetCommissionNotDeducted(t *testing.T) {
	g, ex, rec := gridFixture(t)
	ctx := context.Background()
	require.NoError(t, g.Init(ctx))

	var sell domain.Order
	for _, o := range ex.Placed {
		if o.Price.Equal(d("66000")) {
			sell = o
		}
	}
	require.NoError(t, ex.FillOrder(sell.OrderID, d("0.0001"), "BTC"))
	require.NoError(t, g.Tick(ctx))

	trades := rec.all()
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].PnlUSD)
	want := d("2000").Mul(sell.Quantity)
	assert.True(t, trades[0].PnlUSD.Equal(want), "commission in base asset must not reduce quote pnl")
}

func TestGridDropsOrdersThatLeftTheBook(t *testing.T) {
	g, ex, _ := gridFixture(t)
	ctx := context.Background()
	require.NoError(t, g.Init(ctx))

	require.NoError(t, ex.ExpireOrder(ex.Placed[0].OrderID, domain.OrderCanceled))
	require.NoError(t, ex.ExpireOrder(ex.Placed[1].OrderID, domain.OrderExpired))
	require.NoError(t, g.Tick(ctx))

	buys, sells := g.Pending()
	assert.Equal(t, 4, buys+sells, "grid thins as orders leave the book")
}

func TestGridReplacesWhenDrained(t *testing.T) {
	g, ex, _ := gridFixture(t)
	ctx := context.Background()
	require.NoError(t, g.Init(ctx))

	for _, o := range ex.Placed {
		require.NoError(t, ex.ExpireOrder(o.OrderID, domain.OrderCanceled))
	}
	require.NoError(t, g.Tick(ctx)) // drops everything

	buys, sells := g.Pending()
	require.Zero(t, buys+sells)

	placedBefore := len(ex.Placed)
	require.NoError(t, g.Tick(ctx)) // re-fetches price, re-places the grid
	assert.Equal(t, placedBefore+6, len(ex.Placed))
}

func TestGridZeroQuantitySkipped(t *testing.T) {
	ex := exchangetest.New()
	ex.SetPrice("BTCUSDT", d("64500"))
	ex.SetQtyStep(d("1")) // 100 USD / 60000 floors to zero
	rec := &recorderStub{}
	cfg := domain.GridConfig{
		Symbol:         "BTCUSDT",
		LowerPrice:     d("60000"),
		UpperPrice:     d("70000"),
		GridLevels:     6,
		OrderAmountUSD: d("100"),
	}
	g := NewGrid(ex, rec, cfg, NewRuntimeParams(nil), testLogger())

	require.NoError(t, g.Init(context.Background()))
	assert.Empty(t, ex.Placed)
}

func TestGridCancelAllToleratesGoneOrders(t *testing.T) {
	g, ex, _ := gridFixture(t)
	ctx := context.Background()
	require.NoError(t, g.Init(ctx))

	// One order already left the book; CancelAll must not fail on it.
	require.NoError(t, ex.ExpireOrder(ex.Placed[0].OrderID, domain.OrderFilled))
	g.CancelAll(ctx)

	buys, sells := g.Pending()
	assert.Zero(t, buys+sells)
	assert.Len(t, ex.Canceled, 6)
}

func TestGridAdaptChangesOrderSizing(t *testing.T) {
	g, _, _ := gridFixture(t)
	assert.True(t, g.orderAmountUSD().Equal(d("100")))

	g.Adapt(map[string]any{"order_amount_usd": 250.0})
	assert.True(t, g.orderAmountUSD().Equal(d("250")))
}

func TestGridPlacementFailureSkipsLevel(t *testing.T) {
	g, ex, _ := gridFixture(t)
	ex.NextErr = &domain.ExchangeError{Kind: domain.ErrKindTransient, Code: -1001, Message: "disconnected"}

	g.placeGrid(context.Background(), d("64500"))

	buys, sells := g.Pending()
	assert.Equal(t, 5, buys+sells, "remaining levels still placed after one failure")
	assert.Equal(t, 5, ex.OrderCount())
}
