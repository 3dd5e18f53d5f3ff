// Package server wires the HTTP API, middleware chain, and WebSocket
// endpoint into one http.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/botfleet/internal/server/handler"
	"github.com/alanyoungcy/botfleet/internal/server/middleware"
	"github.com/alanyoungcy/botfleet/internal/server/ws"
)

// Config carries the server's listen and policy settings.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string
}

// Handlers groups the route handlers the server mounts.
type Handlers struct {
	Agents   *handler.AgentHandler
	Groups   *handler.GroupHandler
	Analysis *handler.AnalysisHandler
	Health   *handler.HealthHandler
	Hub      *ws.Hub
}

// Server is the HTTP front of the controller.
type Server struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Server
}

// New builds the server with all routes registered and the middleware
// chain applied.
func New(cfg Config, h Handlers, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	s.routes(mux, h)

	var root http.Handler = mux
	root = middleware.CORS(cfg.CORSOrigins)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.Auth(cfg.APIKey)(root)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux, h Handlers) {
	mux.HandleFunc("GET /api/health", h.Health.Health)

	mux.HandleFunc("POST /api/agents", h.Agents.CreateAgent)
	mux.HandleFunc("GET /api/agents", h.Agents.ListAgents)
	mux.HandleFunc("GET /api/agents/{id}", h.Agents.GetAgent)
	mux.HandleFunc("PATCH /api/agents/{id}", h.Agents.UpdateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", h.Agents.DeleteAgent)
	mux.HandleFunc("POST /api/agents/{id}/start", h.Agents.StartAgent)
	mux.HandleFunc("POST /api/agents/{id}/stop", h.Agents.StopAgent)
	mux.HandleFunc("GET /api/agents/{id}/trades", h.Agents.ListTrades)
	mux.HandleFunc("GET /api/agents/{id}/performance", h.Agents.GetPerformance)
	mux.HandleFunc("POST /api/agents/{id}/analyze", h.Analysis.AnalyzeAgent)

	mux.HandleFunc("POST /api/groups", h.Groups.CreateGroup)
	mux.HandleFunc("GET /api/groups", h.Groups.ListGroups)
	mux.HandleFunc("GET /api/groups/{id}", h.Groups.GetGroup)
	mux.HandleFunc("PUT /api/groups/{id}", h.Groups.UpdateGroup)
	mux.HandleFunc("DELETE /api/groups/{id}", h.Groups.DeleteGroup)
	mux.HandleFunc("POST /api/groups/{id}/agents/{agent_id}", h.Groups.AddAgent)
	mux.HandleFunc("DELETE /api/groups/{id}/agents/{agent_id}", h.Groups.RemoveAgent)
	mux.HandleFunc("GET /api/groups/{id}/performance", h.Groups.GetPerformance)
	mux.HandleFunc("POST /api/groups/{id}/analyze", h.Analysis.AnalyzeGroup)

	if h.Hub != nil {
		mux.Handle("GET /ws", h.Hub)
	}
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.Int("port", s.cfg.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}
