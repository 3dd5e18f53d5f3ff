package service

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
	"github.com/alanyoungcy/botfleet/internal/manager"
	"github.com/alanyoungcy/botfleet/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gridConfig() map[string]any {
	return map[string]any{
		"symbol":                "BTCUSDT",
		"lower_price":           60000.0,
		"upper_price":           70000.0,
		"grid_levels":           2,
		"order_amount_usd":      100.0,
		"loop_interval_seconds": 0.05,
	}
}

func fixture(t *testing.T) (*AgentService, *memory.Store, *exchangetest.Mock) {
	t.Helper()
	store := memory.New()
	ex := exchangetest.New()
	ex.SetPrice("BTCUSDT", decimal.RequireFromString("64500"))
	mgr := manager.New(store, ex, nil, testLogger())
	t.Cleanup(func() { mgr.StopAll(context.Background(), 2*time.Second) })
	return NewAgentService(store, mgr, testLogger()), store, ex
}

func TestCreateValidates(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Kind: domain.KindGrid, Config: gridConfig()})
	assert.True(t, domain.IsValidation(err), "missing name: %v", err)

	_, err = svc.Create(ctx, CreateInput{Name: "a", Kind: "martingale", Config: gridConfig()})
	assert.True(t, domain.IsValidation(err), "unknown kind: %v", err)

	_, err = svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: map[string]any{"symbol": "X"}})
	assert.True(t, domain.IsValidation(err), "incomplete config: %v", err)

	missing := int64(99)
	_, err = svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig(), GroupID: &missing})
	assert.True(t, domain.IsValidation(err), "unknown group: %v", err)

	a, err := svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, a.Status)
}

func TestStartStopLifecycle(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)

	started, err := svc.Start(ctx, a.ID)
	require.NoError(t, err)
	assert.Contains(t, []domain.AgentStatus{domain.StatusStarting, domain.StatusRunning}, started.Status)

	_, err = svc.Start(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	stopped, err := svc.Stop(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, stopped.Status)

	_, err = svc.Stop(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestStartExchangeNotReady(t *testing.T) {
	svc, _, ex := fixture(t)
	ctx := context.Background()
	ex.SetNotReady()

	a, err := svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)

	_, err = svc.Start(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrExchangeNotReady)

	// Conflict-class failures must not overwrite the persisted status.
	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, got.Status)
}

func TestReconcileLostProcess(t *testing.T) {
	svc, store, _ := fixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)

	// Simulate a crash: persisted running with no live worker.
	require.NoError(t, store.Agents().UpdateStatus(ctx, a.ID, domain.StatusRunning, ""))

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, msgProcessLost, got.StatusMessage)

	// The correction is persisted, not just reported.
	persisted, err := store.Agents().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, persisted.Status)
}

func TestReconcileCorrectsStaleStopped(t *testing.T) {
	svc, store, _ := fixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)
	_, err = svc.Start(ctx, a.ID)
	require.NoError(t, err)

	// Someone rewrote the status behind the manager's back.
	require.NoError(t, store.Agents().UpdateStatus(ctx, a.ID, domain.StatusStopped, ""))

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, msgStatusCorrected, got.StatusMessage)

	_, err = svc.Stop(ctx, a.ID)
	require.NoError(t, err)
}

func TestUpdateConfigRefusedWhileRunning(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)
	_, err = svc.Start(ctx, a.ID)
	require.NoError(t, err)

	_, err = svc.Update(ctx, a.ID, UpdateInput{Config: gridConfig()})
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	// Renaming while running is fine.
	name := "renamed"
	updated, err := svc.Update(ctx, a.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = svc.Stop(ctx, a.ID)
	require.NoError(t, err)

	cfg := gridConfig()
	cfg["grid_levels"] = 4
	updated, err = svc.Update(ctx, a.ID, UpdateInput{Config: cfg})
	require.NoError(t, err)
	assert.EqualValues(t, 4, updated.Config["grid_levels"])
}

func TestDeleteStopsRunningAgent(t *testing.T) {
	svc, store, ex := fixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)
	_, err = svc.Start(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 2, ex.OrderCount())

	require.NoError(t, svc.Delete(ctx, a.ID))
	assert.Zero(t, ex.OrderCount(), "delete cancels the live grid")

	_, err = store.Agents().GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPerformance(t *testing.T) {
	svc, store, _ := fixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)

	pnl := decimal.RequireFromString("2.5")
	_, err = store.Trades().Create(ctx, domain.Trade{
		AgentID: a.ID, OrderID: "o1", Symbol: "BTCUSDT",
		Side: domain.SideSell, Price: decimal.RequireFromString("66000"),
		Quantity: decimal.RequireFromString("0.001"), PnlUSD: &pnl,
	})
	require.NoError(t, err)

	perf, err := svc.GetPerformance(ctx, a.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, perf.Pnl.TradeCount)
	assert.True(t, perf.Pnl.RealizedTotal.Equal(pnl))
	require.Len(t, perf.Trades, 1)
}
