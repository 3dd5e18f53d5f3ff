package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a recorded fill. OrderID is the exchange order identifier and is
// unique across the table, so recording the same fill twice is a no-op.
// PnlUSD is nil for entry-side fills whose profit is not yet realized.
type Trade struct {
	ID              int64
	AgentID         int64
	OrderID         string
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	QuoteQuantity   decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	PnlUSD          *decimal.Decimal
	Timestamp       time.Time
}

// PnlSummary aggregates realized profit for a single agent.
type PnlSummary struct {
	AgentID       int64
	TradeCount    int64
	RealizedTotal decimal.Decimal
	Realized24h   decimal.Decimal
}

// GroupPnlSummary aggregates realized profit across a group's agents.
type GroupPnlSummary struct {
	GroupID       int64
	TotalAgents   int
	RealizedTotal decimal.Decimal
	PerAgent      map[int64]decimal.Decimal
}
