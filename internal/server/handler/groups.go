package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/service"
)

// GroupHandler serves the agent group endpoints.
type GroupHandler struct {
	groups *service.GroupService
	logger *slog.Logger
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(groups *service.GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, logger: logger}
}

type groupDTO struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toGroupDTO(g domain.AgentGroup) groupDTO {
	return groupDTO{ID: g.ID, Name: g.Name, Description: g.Description, CreatedAt: g.CreatedAt}
}

// CreateGroup handles POST /api/groups.
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := h.groups.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(g))
}

// ListGroups handles GET /api/groups. A ?name= filter resolves a single
// group by its exact name.
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		g, err := h.groups.GetByName(r.Context(), name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []groupDTO{toGroupDTO(g)})
		return
	}
	groups, err := h.groups.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]groupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupDTO(g))
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateGroup handles PUT /api/groups/{id}.
func (h *GroupHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := h.groups.Update(r.Context(), id, domain.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

// GetGroup handles GET /api/groups/{id}. The response embeds members.
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := h.groups.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	members, err := h.groups.Members(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agents := make([]agentDTO, 0, len(members))
	for _, a := range members {
		agents = append(agents, toAgentDTO(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group":  toGroupDTO(g),
		"agents": agents,
	})
}

// DeleteGroup handles DELETE /api/groups/{id}.
func (h *GroupHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.groups.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddAgent handles POST /api/groups/{id}/agents/{agent_id}.
func (h *GroupHandler) AddAgent(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agentID, err := pathID(r, "agent_id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agent, err := h.groups.AddAgent(r.Context(), groupID, agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentDTO(agent))
}

// RemoveAgent handles DELETE /api/groups/{id}/agents/{agent_id}.
func (h *GroupHandler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	if _, err := pathID(r, "id"); err != nil {
		writeDomainError(w, err)
		return
	}
	agentID, err := pathID(r, "agent_id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agent, err := h.groups.RemoveAgent(r.Context(), agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentDTO(agent))
}

// GetPerformance handles GET /api/groups/{id}/performance.
func (h *GroupHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	perf, err := h.groups.GetPerformance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	perAgent := make(map[string]string, len(perf.Pnl.PerAgent))
	for agentID, pnl := range perf.Pnl.PerAgent {
		perAgent[formatID(agentID)] = pnl.String()
	}
	agents := make([]agentDTO, 0, len(perf.Agents))
	for _, a := range perf.Agents {
		agents = append(agents, toAgentDTO(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group": toGroupDTO(perf.Group),
		"pnl": map[string]any{
			"total_agents":   perf.Pnl.TotalAgents,
			"realized_total": perf.Pnl.RealizedTotal.String(),
			"per_agent":      perAgent,
		},
		"agents": agents,
	})
}
