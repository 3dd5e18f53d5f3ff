package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLoopInterval is the tick period when the config omits one.
const DefaultLoopInterval = 10 * time.Second

// GridConfig parameterizes a symmetric limit-order grid.
type GridConfig struct {
	Symbol         string
	LowerPrice     decimal.Decimal
	UpperPrice     decimal.Decimal
	GridLevels     int
	OrderAmountUSD decimal.Decimal
	LoopInterval   time.Duration
}

// Step returns the price distance between adjacent grid lines.
func (c GridConfig) Step() decimal.Decimal {
	return c.UpperPrice.Sub(c.LowerPrice).Div(decimal.NewFromInt(int64(c.GridLevels - 1)))
}

// Lines returns the grid prices from LowerPrice to UpperPrice inclusive.
func (c GridConfig) Lines() []decimal.Decimal {
	step := c.Step()
	lines := make([]decimal.Decimal, 0, c.GridLevels)
	for i := 0; i < c.GridLevels; i++ {
		lines = append(lines, c.LowerPrice.Add(step.Mul(decimal.NewFromInt(int64(i)))))
	}
	return lines
}

// ArbitrageConfig parameterizes a triangular arbitrage scan over three pairs
// forming a cycle (e.g. BTCUSDT, ETHBTC, ETHUSDT).
type ArbitrageConfig struct {
	Pair1          string
	Pair2          string
	Pair3          string
	MinProfitPct   decimal.Decimal
	TradeAmountUSD decimal.Decimal
	LoopInterval   time.Duration
}

// ParseGridConfig validates and extracts a grid configuration from an
// agent's free-form config document.
func ParseGridConfig(cfg map[string]any) (GridConfig, error) {
	var out GridConfig

	symbol, ok := cfg["symbol"].(string)
	if !ok || symbol == "" {
		return out, Validation("symbol", "required")
	}
	out.Symbol = symbol

	lower, err := decimalField(cfg, "lower_price")
	if err != nil {
		return out, err
	}
	upper, err := decimalField(cfg, "upper_price")
	if err != nil {
		return out, err
	}
	if lower.Sign() <= 0 {
		return out, Validation("lower_price", "must be positive")
	}
	if !upper.GreaterThan(lower) {
		return out, Validation("upper_price", "must exceed lower_price")
	}
	out.LowerPrice, out.UpperPrice = lower, upper

	levels, err := intField(cfg, "grid_levels")
	if err != nil {
		return out, err
	}
	if levels < 2 {
		return out, Validation("grid_levels", "must be at least 2")
	}
	out.GridLevels = levels

	amount, err := decimalField(cfg, "order_amount_usd")
	if err != nil {
		return out, err
	}
	if amount.Sign() <= 0 {
		return out, Validation("order_amount_usd", "must be positive")
	}
	out.OrderAmountUSD = amount

	out.LoopInterval = intervalField(cfg, "loop_interval_seconds")
	return out, nil
}

// ParseArbitrageConfig validates and extracts a triangular arbitrage
// configuration from an agent's free-form config document.
func ParseArbitrageConfig(cfg map[string]any) (ArbitrageConfig, error) {
	var out ArbitrageConfig

	for _, f := range []struct {
		key string
		dst *string
	}{
		{"pair_1", &out.Pair1},
		{"pair_2", &out.Pair2},
		{"pair_3", &out.Pair3},
	} {
		v, ok := cfg[f.key].(string)
		if !ok || v == "" {
			return out, Validation(f.key, "required")
		}
		*f.dst = v
	}

	minProfit, err := decimalField(cfg, "min_profit_pct")
	if err != nil {
		return out, err
	}
	if minProfit.Sign() <= 0 {
		return out, Validation("min_profit_pct", "must be positive")
	}
	out.MinProfitPct = minProfit

	amount, err := decimalField(cfg, "trade_amount_usd")
	if err != nil {
		return out, err
	}
	if amount.Sign() <= 0 {
		return out, Validation("trade_amount_usd", "must be positive")
	}
	out.TradeAmountUSD = amount

	out.LoopInterval = intervalField(cfg, "loop_interval_seconds")
	return out, nil
}

// ValidateStrategyConfig checks cfg against the schema for the given kind.
func ValidateStrategyConfig(kind StrategyKind, cfg map[string]any) error {
	switch kind {
	case KindGrid:
		_, err := ParseGridConfig(cfg)
		return err
	case KindArbitrage:
		_, err := ParseArbitrageConfig(cfg)
		return err
	default:
		return Validation("kind", "unknown strategy kind %q", kind)
	}
}

// decimalField reads a required numeric field. JSON decoding hands us
// float64, re-encoded documents may carry strings or json.Number-like
// values, and tests pass decimals directly.
func decimalField(cfg map[string]any, key string) (decimal.Decimal, error) {
	v, ok := cfg[key]
	if !ok {
		return decimal.Zero, Validation(key, "required")
	}
	d, ok := DecimalValue(v)
	if !ok {
		return decimal.Zero, Validation(key, "must be a number")
	}
	return d, nil
}

func intField(cfg map[string]any, key string) (int, error) {
	d, err := decimalField(cfg, key)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, Validation(key, "must be an integer")
	}
	return int(d.IntPart()), nil
}

// intervalField reads an optional loop interval in seconds.
func intervalField(cfg map[string]any, key string) time.Duration {
	v, ok := cfg[key]
	if !ok {
		return DefaultLoopInterval
	}
	d, ok := DecimalValue(v)
	if !ok || d.Sign() <= 0 {
		return DefaultLoopInterval
	}
	return time.Duration(d.InexactFloat64() * float64(time.Second))
}

// DecimalValue coerces a config document value to a decimal.
func DecimalValue(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}
