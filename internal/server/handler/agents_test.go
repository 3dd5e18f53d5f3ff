package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/exchange/exchangetest"
	"github.com/alanyoungcy/botfleet/internal/manager"
	"github.com/alanyoungcy/botfleet/internal/service"
	"github.com/alanyoungcy/botfleet/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func agentFixture(t *testing.T) (*AgentHandler, *memory.Store) {
	t.Helper()
	store := memory.New()
	ex := exchangetest.New()
	ex.SetPrice("BTCUSDT", decimal.RequireFromString("64500"))
	mgr := manager.New(store, ex, nil, testLogger())
	t.Cleanup(func() { mgr.StopAll(context.Background(), 2*time.Second) })
	svc := service.NewAgentService(store, mgr, testLogger())
	return NewAgentHandler(svc, testLogger()), store
}

const validAgentBody = `{
	"name": "grid-1",
	"kind": "grid",
	"config": {
		"symbol": "BTCUSDT",
		"lower_price": 60000,
		"upper_price": 70000,
		"grid_levels": 2,
		"order_amount_usd": 100
	}
}`

func createAgent(t *testing.T, h *AgentHandler, body string) agentDTO {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.CreateAgent(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var dto agentDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dto))
	return dto
}

func TestCreateAgent(t *testing.T) {
	h, _ := agentFixture(t)
	dto := createAgent(t, h, validAgentBody)
	assert.Equal(t, "grid-1", dto.Name)
	assert.Equal(t, "created", dto.Status)
}

func TestCreateAgentRejections(t *testing.T) {
	h, _ := agentFixture(t)
	createAgent(t, h, validAgentBody)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"name": `, http.StatusBadRequest},
		{"missing name", `{"kind": "grid", "config": {}}`, http.StatusBadRequest},
		{"unknown kind", `{"name": "x", "kind": "martingale", "config": {}}`, http.StatusBadRequest},
		{"duplicate name", validAgentBody, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.CreateAgent(rr, req)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}
}

func TestGetAgent(t *testing.T) {
	h, _ := agentFixture(t)
	dto := createAgent(t, h, validAgentBody)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/1", nil)
	req.SetPathValue("id", "1")
	rr := httptest.NewRecorder()
	h.GetAgent(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var got agentDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, dto.ID, got.ID)
}

func TestGetAgentErrors(t *testing.T) {
	h, _ := agentFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/99", nil)
	req.SetPathValue("id", "99")
	rr := httptest.NewRecorder()
	h.GetAgent(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/agents/abc", nil)
	req.SetPathValue("id", "abc")
	rr = httptest.NewRecorder()
	h.GetAgent(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteAgent(t *testing.T) {
	h, _ := agentFixture(t)
	createAgent(t, h, validAgentBody)

	req := httptest.NewRequest(http.MethodDelete, "/api/agents/1", nil)
	req.SetPathValue("id", "1")
	rr := httptest.NewRecorder()
	h.DeleteAgent(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.DeleteAgent(rr, httptestRequestWithID(http.MethodDelete, "/api/agents/1", "1"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func httptestRequestWithID(method, target, id string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.SetPathValue("id", id)
	return req
}

func TestStartStopAgentEndpoints(t *testing.T) {
	h, _ := agentFixture(t)
	createAgent(t, h, validAgentBody)

	rr := httptest.NewRecorder()
	h.StartAgent(rr, httptestRequestWithID(http.MethodPost, "/api/agents/1/start", "1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Starting again conflicts.
	rr = httptest.NewRecorder()
	h.StartAgent(rr, httptestRequestWithID(http.MethodPost, "/api/agents/1/start", "1"))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	h.StopAgent(rr, httptestRequestWithID(http.MethodPost, "/api/agents/1/stop", "1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var dto agentDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dto))
	assert.Equal(t, "stopped", dto.Status)

	// Stopping a stopped agent conflicts.
	rr = httptest.NewRecorder()
	h.StopAgent(rr, httptestRequestWithID(http.MethodPost, "/api/agents/1/stop", "1"))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestListAgentsPagination(t *testing.T) {
	h, _ := agentFixture(t)
	createAgent(t, h, validAgentBody)
	createAgent(t, h, strings.Replace(validAgentBody, "grid-1", "grid-2", 1))

	req := httptest.NewRequest(http.MethodGet, "/api/agents?limit=1&skip=1", nil)
	rr := httptest.NewRecorder()
	h.ListAgents(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var agents []agentDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "grid-2", agents[0].Name)
}

func TestAgentPerformanceEndpoint(t *testing.T) {
	h, store := agentFixture(t)
	createAgent(t, h, validAgentBody)

	pnl := decimal.RequireFromString("3.5")
	_, err := store.Trades().Create(context.Background(), domain.Trade{
		AgentID: 1, OrderID: "o1", Symbol: "BTCUSDT",
		Side: domain.SideSell, Price: decimal.RequireFromString("66000"),
		Quantity: decimal.RequireFromString("0.001"), PnlUSD: &pnl,
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.GetPerformance(rr, httptestRequestWithID(http.MethodGet, "/api/agents/1/performance", "1"))
	require.Equal(t, http.StatusOK, rr.Code)

	var out struct {
		Pnl struct {
			TradeCount    int    `json:"trade_count"`
			RealizedTotal string `json:"realized_total"`
			Unrealized    string `json:"unrealized"`
		} `json:"pnl"`
		Trades []tradeDTO `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Pnl.TradeCount)
	assert.Equal(t, "3.5", out.Pnl.RealizedTotal)
	assert.Equal(t, "0", out.Pnl.Unrealized)
	require.Len(t, out.Trades, 1)
	require.NotNil(t, out.Trades[0].PnlUSD)
	assert.Equal(t, "3.5", *out.Trades[0].PnlUSD)
}

func TestStatusFromErr(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrDuplicateName, http.StatusConflict},
		{domain.ErrAlreadyRunning, http.StatusConflict},
		{domain.ErrNotRunning, http.StatusConflict},
		{domain.ErrGroupNotEmpty, http.StatusConflict},
		{domain.ErrExchangeNotReady, http.StatusBadRequest},
		{domain.Validation("f", "bad"), http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFromErr(tt.err), "%v", tt.err)
	}
}
