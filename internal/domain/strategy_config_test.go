package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGridConfig() map[string]any {
	return map[string]any{
		"symbol":           "BTCUSDT",
		"lower_price":      60000.0,
		"upper_price":      70000.0,
		"grid_levels":      11,
		"order_amount_usd": 100.0,
	}
}

func TestParseGridConfig(t *testing.T) {
	cfg, err := ParseGridConfig(validGridConfig())
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, 11, cfg.GridLevels)
	assert.True(t, cfg.Step().Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, DefaultLoopInterval, cfg.LoopInterval)

	lines := cfg.Lines()
	require.Len(t, lines, 11)
	assert.True(t, lines[0].Equal(decimal.NewFromInt(60000)))
	assert.True(t, lines[10].Equal(decimal.NewFromInt(70000)))
}

func TestParseGridConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"missing symbol", func(c map[string]any) { delete(c, "symbol") }, "symbol"},
		{"empty symbol", func(c map[string]any) { c["symbol"] = "" }, "symbol"},
		{"lower not positive", func(c map[string]any) { c["lower_price"] = 0.0 }, "lower_price"},
		{"upper below lower", func(c map[string]any) { c["upper_price"] = 50000.0 }, "upper_price"},
		{"upper equals lower", func(c map[string]any) { c["upper_price"] = 60000.0 }, "upper_price"},
		{"one level", func(c map[string]any) { c["grid_levels"] = 1 }, "grid_levels"},
		{"fractional levels", func(c map[string]any) { c["grid_levels"] = 10.5 }, "grid_levels"},
		{"non-numeric price", func(c map[string]any) { c["lower_price"] = "abc" }, "lower_price"},
		{"zero amount", func(c map[string]any) { c["order_amount_usd"] = 0.0 }, "order_amount_usd"},
		{"missing amount", func(c map[string]any) { delete(c, "order_amount_usd") }, "order_amount_usd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validGridConfig()
			tt.mutate(cfg)
			_, err := ParseGridConfig(cfg)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseGridConfigStringNumbers(t *testing.T) {
	// Round-tripped config documents may carry numbers as strings.
	cfg, err := ParseGridConfig(map[string]any{
		"symbol":           "ETHUSDT",
		"lower_price":      "2000",
		"upper_price":      "3000",
		"grid_levels":      "5",
		"order_amount_usd":      "50",
		"loop_interval_seconds": "2",
	})
	require.NoError(t, err)
	assert.True(t, cfg.Step().Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 2*time.Second, cfg.LoopInterval)
}

func TestParseGridConfigLoopIntervalSeconds(t *testing.T) {
	cfg := validGridConfig()
	cfg["loop_interval_seconds"] = 2.0
	parsed, err := ParseGridConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, parsed.LoopInterval)
}

func TestParseArbitrageConfig(t *testing.T) {
	cfg, err := ParseArbitrageConfig(map[string]any{
		"pair_1":           "BTCUSDT",
		"pair_2":           "ETHBTC",
		"pair_3":           "ETHUSDT",
		"min_profit_pct":   0.5,
		"trade_amount_usd": 1000.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "ETHBTC", cfg.Pair2)
	assert.True(t, cfg.MinProfitPct.Equal(decimal.NewFromFloat(0.5)))

	_, err = ParseArbitrageConfig(map[string]any{
		"pair_1":           "BTCUSDT",
		"pair_2":           "ETHBTC",
		"min_profit_pct":   0.5,
		"trade_amount_usd": 1000.0,
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestParseArbitrageConfigRejectsZeroProfit(t *testing.T) {
	_, err := ParseArbitrageConfig(map[string]any{
		"pair_1":           "BTCUSDT",
		"pair_2":           "ETHBTC",
		"pair_3":           "ETHUSDT",
		"min_profit_pct":   0.0,
		"trade_amount_usd": 1000.0,
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "min_profit_pct", verr.Field)
}

func TestValidateStrategyConfigUnknownKind(t *testing.T) {
	err := ValidateStrategyConfig("martingale", map[string]any{})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestDecimalValue(t *testing.T) {
	d, ok := DecimalValue(42)
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.NewFromInt(42)))

	d, ok = DecimalValue("3.14")
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.NewFromFloat(3.14)))

	_, ok = DecimalValue([]string{"nope"})
	assert.False(t, ok)

	_, ok = DecimalValue("not a number")
	assert.False(t, ok)
}
