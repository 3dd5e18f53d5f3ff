package handler

import (
	"net/http"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/manager"
)

// HealthHandler reports component readiness.
type HealthHandler struct {
	store    domain.Store
	bus      domain.Bus
	exchange domain.Exchange
	manager  *manager.Manager
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store domain.Store, bus domain.Bus, exchange domain.Exchange, mgr *manager.Manager) *HealthHandler {
	return &HealthHandler{store: store, bus: bus, exchange: exchange, manager: mgr}
}

// Health handles GET /api/health. The store is the only hard dependency;
// a degraded bus or exchange still answers 200 with the flags set.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	dbOK := h.store.Ping(r.Context()) == nil

	status := "ok"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"database":       dbOK,
		"bus":            h.bus.Ready(),
		"exchange":       h.exchange.Ready(),
		"running_agents": len(h.manager.Running()),
	})
}
