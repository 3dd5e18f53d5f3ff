package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/service"
)

// AgentHandler serves the agent lifecycle and performance endpoints.
type AgentHandler struct {
	agents *service.AgentService
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents *service.AgentService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, logger: logger}
}

type agentDTO struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	Config        map[string]any `json:"config"`
	Status        string         `json:"status"`
	StatusMessage string         `json:"status_message,omitempty"`
	GroupID       *int64         `json:"group_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func toAgentDTO(a domain.Agent) agentDTO {
	return agentDTO{
		ID:            a.ID,
		Name:          a.Name,
		Kind:          string(a.Kind),
		Config:        a.Config,
		Status:        string(a.Status),
		StatusMessage: a.StatusMessage,
		GroupID:       a.GroupID,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type tradeDTO struct {
	ID              int64     `json:"id"`
	AgentID         int64     `json:"agent_id"`
	OrderID         string    `json:"order_id"`
	ClientOrderID   string    `json:"client_order_id,omitempty"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Price           string    `json:"price"`
	Quantity        string    `json:"quantity"`
	QuoteQuantity   string    `json:"quote_quantity"`
	Commission      string    `json:"commission"`
	CommissionAsset string    `json:"commission_asset,omitempty"`
	PnlUSD          *string   `json:"pnl_usd,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

func toTradeDTO(t domain.Trade) tradeDTO {
	dto := tradeDTO{
		ID:              t.ID,
		AgentID:         t.AgentID,
		OrderID:         t.OrderID,
		ClientOrderID:   t.ClientOrderID,
		Symbol:          t.Symbol,
		Side:            string(t.Side),
		Price:           t.Price.String(),
		Quantity:        t.Quantity.String(),
		QuoteQuantity:   t.QuoteQuantity.String(),
		Commission:      t.Commission.String(),
		CommissionAsset: t.CommissionAsset,
		Timestamp:       t.Timestamp,
	}
	if t.PnlUSD != nil {
		s := t.PnlUSD.String()
		dto.PnlUSD = &s
	}
	return dto
}

func toTradeDTOs(trades []domain.Trade) []tradeDTO {
	out := make([]tradeDTO, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeDTO(t))
	}
	return out
}

// CreateAgent handles POST /api/agents.
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string         `json:"name"`
		Kind    string         `json:"kind"`
		Config  map[string]any `json:"config"`
		GroupID *int64         `json:"group_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	agent, err := h.agents.Create(r.Context(), service.CreateInput{
		Name:    req.Name,
		Kind:    domain.StrategyKind(req.Kind),
		Config:  req.Config,
		GroupID: req.GroupID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentDTO(agent))
}

// ListAgents handles GET /api/agents.
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]agentDTO, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAgent handles GET /api/agents/{id}.
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agent, err := h.agents.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentDTO(agent))
}

// UpdateAgent handles PATCH /api/agents/{id}.
func (h *AgentHandler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req struct {
		Name       *string        `json:"name"`
		Config     map[string]any `json:"config"`
		GroupID    *int64         `json:"group_id"`
		ClearGroup bool           `json:"clear_group"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	agent, err := h.agents.Update(r.Context(), id, service.UpdateInput{
		Name:       req.Name,
		Config:     req.Config,
		GroupID:    req.GroupID,
		ClearGroup: req.ClearGroup,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentDTO(agent))
}

// DeleteAgent handles DELETE /api/agents/{id}.
func (h *AgentHandler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.agents.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartAgent handles POST /api/agents/{id}/start.
func (h *AgentHandler) StartAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agent, err := h.agents.Start(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentDTO(agent))
}

// StopAgent handles POST /api/agents/{id}/stop.
func (h *AgentHandler) StopAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agent, err := h.agents.Stop(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentDTO(agent))
}

// ListTrades handles GET /api/agents/{id}/trades.
func (h *AgentHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	trades, err := h.agents.ListTrades(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeDTOs(trades))
}

// GetPerformance handles GET /api/agents/{id}/performance.
func (h *AgentHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	perf, err := h.agents.GetPerformance(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent": toAgentDTO(perf.Agent),
		"pnl": map[string]any{
			"trade_count":    perf.Pnl.TradeCount,
			"realized_total": perf.Pnl.RealizedTotal.String(),
			"realized_24h":   perf.Pnl.Realized24h.String(),
			// Position marking is not implemented; the field is kept so
			// consumers see a stable shape.
			"unrealized": decimal.Zero.String(),
		},
		"trades": toTradeDTOs(perf.Trades),
	})
}
