package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Arbitrage scans a three-pair cycle each tick and announces cycles whose
// round trip clears the configured profit threshold. It signals rather
// than trades: taker execution across three legs is left to downstream
// consumers of the event.
type Arbitrage struct {
	exchange domain.Exchange
	bus      domain.Bus // nil when running bus-less
	agentID  int64
	cfg      domain.ArbitrageConfig
	params   *RuntimeParams
	logger   *slog.Logger
}

// NewArbitrage creates a triangular arbitrage scanner.
func NewArbitrage(exchange domain.Exchange, bus domain.Bus, agentID int64, cfg domain.ArbitrageConfig, params *RuntimeParams, logger *slog.Logger) *Arbitrage {
	return &Arbitrage{
		exchange: exchange,
		bus:      bus,
		agentID:  agentID,
		cfg:      cfg,
		params:   params,
		logger: logger.With(slog.String("component", "arbitrage"),
			slog.Int64("agent_id", agentID)),
	}
}

// Init verifies all three pairs are quotable.
func (a *Arbitrage) Init(ctx context.Context) error {
	for _, pair := range []string{a.cfg.Pair1, a.cfg.Pair2, a.cfg.Pair3} {
		if _, err := a.exchange.CurrentPrice(ctx, pair); err != nil {
			return fmt.Errorf("arbitrage: quote %s: %w", pair, err)
		}
	}
	return nil
}

// Tick fetches the three legs and computes the round-trip return for
// trade_amount_usd through the cycle: buy base on pair 1, convert across
// pair 2, unwind on pair 3.
func (a *Arbitrage) Tick(ctx context.Context) error {
	p1, err := a.exchange.CurrentPrice(ctx, a.cfg.Pair1)
	if err != nil {
		return fmt.Errorf("arbitrage: quote %s: %w", a.cfg.Pair1, err)
	}
	p2, err := a.exchange.CurrentPrice(ctx, a.cfg.Pair2)
	if err != nil {
		return fmt.Errorf("arbitrage: quote %s: %w", a.cfg.Pair2, err)
	}
	p3, err := a.exchange.CurrentPrice(ctx, a.cfg.Pair3)
	if err != nil {
		return fmt.Errorf("arbitrage: quote %s: %w", a.cfg.Pair3, err)
	}
	if p1.Sign() <= 0 || p2.Sign() <= 0 || p3.Sign() <= 0 {
		return nil
	}

	amount := a.tradeAmountUSD()
	final := amount.Div(p1).Mul(p2).Mul(p3)
	profitPct := final.Sub(amount).Div(amount).Mul(hundred)

	if profitPct.LessThan(a.minProfitPct()) {
		return nil
	}

	a.logger.Info("arbitrage cycle detected",
		slog.String("profit_pct", profitPct.String()),
		slog.String("amount_usd", amount.String()))

	if a.bus != nil {
		a.bus.Publish(domain.ChannelAgentEvents, domain.Envelope{
			Type:    domain.EventArbDetected,
			AgentID: a.agentID,
			Payload: map[string]any{
				"pairs":      []string{a.cfg.Pair1, a.cfg.Pair2, a.cfg.Pair3},
				"profit_pct": profitPct.String(),
				"amount_usd": amount.String(),
			},
		})
	}
	return nil
}

// CancelAll is a no-op; the scanner holds no resting orders.
func (a *Arbitrage) CancelAll(ctx context.Context) {}

// Adapt overlays analyzer-suggested parameters on the runtime view.
func (a *Arbitrage) Adapt(overrides map[string]any) {
	a.params.Apply(overrides)
}

func (a *Arbitrage) tradeAmountUSD() decimal.Decimal {
	if d, ok := a.params.Decimal("trade_amount_usd"); ok && d.Sign() > 0 {
		return d
	}
	return a.cfg.TradeAmountUSD
}

func (a *Arbitrage) minProfitPct() decimal.Decimal {
	if d, ok := a.params.Decimal("min_profit_pct"); ok {
		return d
	}
	return a.cfg.MinProfitPct
}

// Compile-time interface check.
var _ Strategy = (*Arbitrage)(nil)
