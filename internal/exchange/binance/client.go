// Package binance implements the domain exchange facade on Binance spot
// via go-binance.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// Config holds API credentials and endpoint selection.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Testnet   bool
}

// Client implements domain.Exchange. Symbol filters (lot step, tick size,
// quote asset) are fetched once per symbol and cached.
type Client struct {
	api   *binance.Client
	ready bool

	mu    sync.RWMutex
	metas map[string]symbolMeta
}

type symbolMeta struct {
	qtyStep    decimal.Decimal
	priceTick  decimal.Decimal
	quoteAsset string
}

// New creates a Client. Missing credentials leave the client not Ready;
// read-only calls still work, trading calls fail upstream at the worker.
func New(cfg Config) *Client {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	api := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:   api,
		ready: cfg.APIKey != "" && cfg.SecretKey != "",
		metas: map[string]symbolMeta{},
	}
}

// Ready reports whether the client holds usable credentials.
func (c *Client) Ready() bool { return c.ready }

// Ping checks venue connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return mapErr("ping", err)
	}
	return nil
}

// CurrentPrice returns the last traded price for symbol.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, mapErr("price "+symbol, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("binance: price %s: empty response", symbol)
	}
	p, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: parse price %s: %w", symbol, err)
	}
	return p, nil
}

// CreateLimitOrder places a GTC limit order with a fresh UUID client order
// ID. Price and quantity are snapped to the symbol's filters before
// submission.
func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, quantity decimal.Decimal) (domain.Order, error) {
	meta, err := c.symbolMeta(ctx, symbol)
	if err != nil {
		return domain.Order{}, err
	}
	price = snap(price, meta.priceTick)
	quantity = snap(quantity, meta.qtyStep)

	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Price(price.String()).
		Quantity(quantity.String()).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return domain.Order{}, mapErr("create order "+symbol, err)
	}

	out := domain.Order{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          side,
		Status:        domain.OrderStatus(res.Status),
	}
	out.Price, _ = decimal.NewFromString(res.Price)
	out.Quantity, _ = decimal.NewFromString(res.OrigQuantity)
	out.ExecutedQty, _ = decimal.NewFromString(res.ExecutedQuantity)
	out.CumQuoteQty, _ = decimal.NewFromString(res.CummulativeQuoteQuantity)
	return out, nil
}

// GetOrder fetches the order's current state. For filled orders the
// account trade list is consulted so the commission can be reported.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("binance: parse order id %q: %w", orderID, err)
	}

	o, err := c.api.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return domain.Order{}, mapErr("get order "+orderID, err)
	}

	out := domain.Order{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Status:        domain.OrderStatus(o.Status),
	}
	out.Price, _ = decimal.NewFromString(o.Price)
	out.Quantity, _ = decimal.NewFromString(o.OrigQuantity)
	out.ExecutedQty, _ = decimal.NewFromString(o.ExecutedQuantity)
	out.CumQuoteQty, _ = decimal.NewFromString(o.CummulativeQuoteQuantity)

	if out.Status == domain.OrderFilled {
		commission, asset, err := c.orderCommission(ctx, symbol, id)
		if err == nil {
			out.Commission = commission
			out.CommissionAsset = asset
		}
	}
	return out, nil
}

func (c *Client) orderCommission(ctx context.Context, symbol string, orderID int64) (decimal.Decimal, string, error) {
	fills, err := c.api.NewListTradesService().Symbol(symbol).OrderId(orderID).Do(ctx)
	if err != nil {
		return decimal.Zero, "", mapErr("order fills", err)
	}
	total := decimal.Zero
	asset := ""
	for _, f := range fills {
		d, err := decimal.NewFromString(f.Commission)
		if err != nil {
			continue
		}
		total = total.Add(d)
		asset = f.CommissionAsset
	}
	return total, asset, nil
}

// OpenOrders lists the account's open orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	orders, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, mapErr("open orders "+symbol, err)
	}

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		d := domain.Order{
			OrderID:       strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          domain.OrderSide(o.Side),
			Status:        domain.OrderStatus(o.Status),
		}
		d.Price, _ = decimal.NewFromString(o.Price)
		d.Quantity, _ = decimal.NewFromString(o.OrigQuantity)
		d.ExecutedQty, _ = decimal.NewFromString(o.ExecutedQuantity)
		out = append(out, d)
	}
	return out, nil
}

// CancelOrder cancels the order. Cancelling an order that already left the
// book maps to ErrKindOrderGone.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: parse order id %q: %w", orderID, err)
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return mapErr("cancel order "+orderID, err)
	}
	return nil
}

// AssetBalance returns the free and locked balance for asset.
func (c *Client) AssetBalance(ctx context.Context, asset string) (domain.Balance, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return domain.Balance{}, mapErr("account", err)
	}
	for _, b := range acct.Balances {
		if b.Asset != asset {
			continue
		}
		out := domain.Balance{Asset: asset}
		out.Free, _ = decimal.NewFromString(b.Free)
		out.Locked, _ = decimal.NewFromString(b.Locked)
		return out, nil
	}
	return domain.Balance{Asset: asset}, nil
}

// RoundQuantity floors qty to the symbol's lot-size step.
func (c *Client) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	meta, err := c.symbolMeta(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return snap(qty, meta.qtyStep), nil
}

// QuoteAsset returns the quote asset of the symbol.
func (c *Client) QuoteAsset(ctx context.Context, symbol string) (string, error) {
	meta, err := c.symbolMeta(ctx, symbol)
	if err != nil {
		return "", err
	}
	return meta.quoteAsset, nil
}

func (c *Client) symbolMeta(ctx context.Context, symbol string) (symbolMeta, error) {
	c.mu.RLock()
	meta, ok := c.metas[symbol]
	c.mu.RUnlock()
	if ok {
		return meta, nil
	}

	info, err := c.api.NewExchangeInfoService().Symbols(symbol).Do(ctx)
	if err != nil {
		return symbolMeta{}, mapErr("exchange info "+symbol, err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		meta := symbolMeta{quoteAsset: s.QuoteAsset}
		if f := s.LotSizeFilter(); f != nil {
			meta.qtyStep, _ = decimal.NewFromString(f.StepSize)
		}
		if f := s.PriceFilter(); f != nil {
			meta.priceTick, _ = decimal.NewFromString(f.TickSize)
		}

		c.mu.Lock()
		c.metas[symbol] = meta
		c.mu.Unlock()
		return meta, nil
	}
	return symbolMeta{}, fmt.Errorf("binance: symbol %s not listed", symbol)
}

// snap floors v to a multiple of step. A zero step leaves v untouched.
func snap(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// mapErr classifies venue failures into the domain error taxonomy.
func mapErr(op string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return &domain.ExchangeError{Kind: domain.ErrKindTransient, Message: fmt.Sprintf("%s: %v", op, err)}
	}

	kind := domain.ErrKindTransient
	switch apiErr.Code {
	case -1003:
		kind = domain.ErrKindRateLimited
		if strings.Contains(strings.ToLower(apiErr.Message), "banned") {
			kind = domain.ErrKindBanned
		}
	case -2011, -2013:
		kind = domain.ErrKindOrderGone
	case -1022, -2014, -2015:
		kind = domain.ErrKindAuth
	}
	return &domain.ExchangeError{Kind: kind, Code: apiErr.Code, Message: fmt.Sprintf("%s: %s", op, apiErr.Message)}
}

// Compile-time interface check.
var _ domain.Exchange = (*Client)(nil)
