package manager

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/exchange/exchangetest"
	"github.com/alanyoungcy/botfleet/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gridAgent(t *testing.T, store *memory.Store) domain.Agent {
	t.Helper()
	a, err := store.Agents().Create(context.Background(), domain.Agent{
		Name: "grid-1",
		Kind: domain.KindGrid,
		Config: map[string]any{
			"symbol":                "BTCUSDT",
			"lower_price":           60000.0,
			"upper_price":           70000.0,
			"grid_levels":           2,
			"order_amount_usd":      100.0,
			"loop_interval_seconds": 0.05,
		},
	})
	require.NoError(t, err)
	return a
}

func fixture(t *testing.T) (*Manager, *memory.Store, *exchangetest.Mock) {
	t.Helper()
	store := memory.New()
	ex := exchangetest.New()
	ex.SetPrice("BTCUSDT", decimal.RequireFromString("64500"))
	return New(store, ex, nil, testLogger()), store, ex
}

func TestStartAndStopAgent(t *testing.T) {
	m, store, ex := fixture(t)
	ctx := context.Background()
	a := gridAgent(t, store)

	require.NoError(t, m.StartAgent(ctx, a))
	assert.True(t, m.IsRunning(a.ID))
	assert.Equal(t, 2, ex.OrderCount(), "grid placed on start")

	infos := m.Running()
	require.Len(t, infos, 1)
	assert.Equal(t, a.ID, infos[0].AgentID)
	assert.Equal(t, domain.KindGrid, infos[0].Kind)

	require.NoError(t, m.StopAgent(ctx, a.ID, 2*time.Second))
	assert.False(t, m.IsRunning(a.ID))
	assert.Zero(t, ex.OrderCount(), "stop cancels the grid")

	got, err := store.Agents().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, got.Status)
}

func TestStartAgentTwiceConflicts(t *testing.T) {
	m, store, _ := fixture(t)
	ctx := context.Background()
	a := gridAgent(t, store)

	require.NoError(t, m.StartAgent(ctx, a))
	assert.ErrorIs(t, m.StartAgent(ctx, a), domain.ErrAlreadyRunning)

	require.NoError(t, m.StopAgent(ctx, a.ID, 2*time.Second))
}

func TestStartAgentExchangeNotReady(t *testing.T) {
	m, store, ex := fixture(t)
	ex.SetNotReady()
	a := gridAgent(t, store)

	assert.ErrorIs(t, m.StartAgent(context.Background(), a), domain.ErrExchangeNotReady)
	assert.False(t, m.IsRunning(a.ID))
}

func TestStartAgentInvalidConfig(t *testing.T) {
	m, store, _ := fixture(t)
	a, err := store.Agents().Create(context.Background(), domain.Agent{
		Name:   "broken",
		Kind:   domain.KindGrid,
		Config: map[string]any{"symbol": "BTCUSDT"},
	})
	require.NoError(t, err)

	err = m.StartAgent(context.Background(), a)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.False(t, m.IsRunning(a.ID))
}

func TestStartAgentInitFailureReleasesSlot(t *testing.T) {
	m, store, ex := fixture(t)
	ctx := context.Background()
	a := gridAgent(t, store)

	// No price scripted for the symbol makes grid init fail.
	ex.PersistentErr = &domain.ExchangeError{Kind: domain.ErrKindTransient, Code: -1001, Message: "disconnected"}
	require.Error(t, m.StartAgent(ctx, a))
	assert.False(t, m.IsRunning(a.ID), "failed start must not hold the slot")

	got, err := store.Agents().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)

	// The slot is free for a retry once the venue recovers.
	ex.PersistentErr = nil
	require.NoError(t, m.StartAgent(ctx, a))
	require.NoError(t, m.StopAgent(ctx, a.ID, 2*time.Second))
}

func TestStopAgentNotRunning(t *testing.T) {
	m, _, _ := fixture(t)
	assert.ErrorIs(t, m.StopAgent(context.Background(), 42, time.Second), domain.ErrNotRunning)
}

func TestStopAll(t *testing.T) {
	m, store, _ := fixture(t)
	ctx := context.Background()

	a := gridAgent(t, store)
	b, err := store.Agents().Create(ctx, domain.Agent{
		Name: "grid-2",
		Kind: domain.KindGrid,
		Config: map[string]any{
			"symbol":                "BTCUSDT",
			"lower_price":           60000.0,
			"upper_price":           70000.0,
			"grid_levels":           2,
			"order_amount_usd":      100.0,
			"loop_interval_seconds": 0.05,
		},
	})
	require.NoError(t, err)

	require.NoError(t, m.StartAgent(ctx, a))
	require.NoError(t, m.StartAgent(ctx, b))
	require.Len(t, m.Running(), 2)

	m.StopAll(ctx, 2*time.Second)
	assert.Empty(t, m.Running())
}
