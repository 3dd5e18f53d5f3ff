package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus mirrors the exchange's order state machine.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Gone reports whether the order left the book without (fully) filling.
func (s OrderStatus) Gone() bool {
	return s == OrderCanceled || s == OrderRejected || s == OrderExpired
}

// Order is an exchange order as reported back by the venue.
type Order struct {
	OrderID         string
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	ExecutedQty     decimal.Decimal
	CumQuoteQty     decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	Status          OrderStatus
}

// Balance is a single-asset account balance.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// ErrorKind classifies exchange failures so callers can pick a backoff.
type ErrorKind string

const (
	// ErrKindTransient covers network hiccups and retryable venue errors.
	ErrKindTransient ErrorKind = "transient"
	// ErrKindRateLimited means the venue asked us to slow down (HTTP 429).
	ErrKindRateLimited ErrorKind = "rate_limited"
	// ErrKindBanned means the venue blocked the client (HTTP 418); retrying
	// makes it worse.
	ErrKindBanned ErrorKind = "banned"
	// ErrKindOrderGone means the referenced order no longer exists.
	ErrKindOrderGone ErrorKind = "order_gone"
	// ErrKindAuth means the credentials were rejected.
	ErrKindAuth ErrorKind = "auth"
)

// ExchangeError carries the venue's failure classification alongside the
// raw code and message.
type ExchangeError struct {
	Kind    ErrorKind
	Code    int64
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange: %s (code %d): %s", e.Kind, e.Code, e.Message)
}

func exchangeErrKind(err error, kind ErrorKind) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Kind == kind
}

// IsRateLimited reports whether err is a venue rate-limit rejection.
func IsRateLimited(err error) bool { return exchangeErrKind(err, ErrKindRateLimited) }

// IsBanned reports whether err is a venue IP ban.
func IsBanned(err error) bool { return exchangeErrKind(err, ErrKindBanned) }

// IsOrderGone reports whether err means the order no longer exists.
func IsOrderGone(err error) bool { return exchangeErrKind(err, ErrKindOrderGone) }

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool { return exchangeErrKind(err, ErrKindAuth) }

// IsExchangeErr reports whether err is any classified exchange failure.
func IsExchangeErr(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee)
}

// Exchange is the synchronous trading facade the workers poll. All
// implementations must be safe for concurrent use.
type Exchange interface {
	// Ready reports whether the client holds usable credentials.
	Ready() bool
	Ping(ctx context.Context) error
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	CreateLimitOrder(ctx context.Context, symbol string, side OrderSide, price, quantity decimal.Decimal) (Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	AssetBalance(ctx context.Context, asset string) (Balance, error)
	// RoundQuantity floors qty to the symbol's lot-size step.
	RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error)
	// QuoteAsset returns the quote asset of the symbol (e.g. USDT for BTCUSDT).
	QuoteAsset(ctx context.Context, symbol string) (string, error)
}
