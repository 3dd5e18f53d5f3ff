package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/store/memory"
)

func groupFixture(t *testing.T) (*GroupService, *AgentService, *memory.Store) {
	t.Helper()
	agentSvc, store, _ := fixture(t)
	return NewGroupService(store, testLogger()), agentSvc, store
}

func TestGroupLifecycle(t *testing.T) {
	groups, agents, _ := groupFixture(t)
	ctx := context.Background()

	_, err := groups.Create(ctx, "", "")
	assert.True(t, domain.IsValidation(err))

	g, err := groups.Create(ctx, "fleet-1", "btc grids")
	require.NoError(t, err)

	_, err = groups.Create(ctx, "fleet-1", "")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	a, err := agents.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)

	joined, err := groups.AddAgent(ctx, g.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, joined.GroupID)
	assert.Equal(t, g.ID, *joined.GroupID)

	members, err := groups.Members(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)

	assert.ErrorIs(t, groups.Delete(ctx, g.ID), domain.ErrGroupNotEmpty)

	left, err := groups.RemoveAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, left.GroupID)
	assert.NoError(t, groups.Delete(ctx, g.ID))
}

func TestGroupAddAgentUnknownGroup(t *testing.T) {
	groups, agents, _ := groupFixture(t)
	ctx := context.Background()

	a, err := agents.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig()})
	require.NoError(t, err)

	_, err = groups.AddAgent(ctx, 99, a.ID)
	assert.True(t, domain.IsValidation(err), "got %v", err)
}

func TestGroupPerformanceAggregates(t *testing.T) {
	groups, agents, store := groupFixture(t)
	ctx := context.Background()

	g, err := groups.Create(ctx, "fleet-1", "")
	require.NoError(t, err)
	a, err := agents.Create(ctx, CreateInput{Name: "a", Kind: domain.KindGrid, Config: gridConfig(), GroupID: &g.ID})
	require.NoError(t, err)

	pnl := decimal.RequireFromString("4")
	_, err = store.Trades().Create(ctx, domain.Trade{
		AgentID: a.ID, OrderID: "o1", Side: domain.SideSell, PnlUSD: &pnl,
	})
	require.NoError(t, err)

	perf, err := groups.GetPerformance(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.Pnl.TotalAgents)
	assert.True(t, perf.Pnl.RealizedTotal.Equal(pnl))
	require.Len(t, perf.Agents, 1)
}

func TestGroupUpdate(t *testing.T) {
	groups, _, _ := groupFixture(t)
	ctx := context.Background()

	g, err := groups.Create(ctx, "fleet-1", "btc grids")
	require.NoError(t, err)
	_, err = groups.Create(ctx, "fleet-2", "")
	require.NoError(t, err)

	name, desc := "fleet-main", "renamed"
	updated, err := groups.Update(ctx, g.ID, domain.GroupUpdate{Name: &name, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "fleet-main", updated.Name)
	assert.Equal(t, "renamed", updated.Description)

	// Description-only updates leave the name alone.
	descOnly := "eth grids"
	updated, err = groups.Update(ctx, g.ID, domain.GroupUpdate{Description: &descOnly})
	require.NoError(t, err)
	assert.Equal(t, "fleet-main", updated.Name)
	assert.Equal(t, "eth grids", updated.Description)

	empty := ""
	_, err = groups.Update(ctx, g.ID, domain.GroupUpdate{Name: &empty})
	assert.True(t, domain.IsValidation(err))

	taken := "fleet-2"
	_, err = groups.Update(ctx, g.ID, domain.GroupUpdate{Name: &taken})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	_, err = groups.Update(ctx, 99, domain.GroupUpdate{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGroupGetByName(t *testing.T) {
	groups, _, _ := groupFixture(t)
	ctx := context.Background()

	g, err := groups.Create(ctx, "fleet-1", "")
	require.NoError(t, err)

	got, err := groups.GetByName(ctx, "fleet-1")
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)

	_, err = groups.GetByName(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
