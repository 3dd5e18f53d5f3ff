// Package service implements the controller's external contract on top of
// the stores and the agent manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/manager"
)

// stopTimeout bounds how long a stop waits for the trading loop to exit.
const stopTimeout = 15 * time.Second

// Reconciliation messages recorded when persisted status and live thread
// state disagree.
const (
	msgProcessLost     = "process not found by manager"
	msgStatusCorrected = "status corrected from manager state"
)

// AgentService manages agent lifecycle and reads. Every read reconciles
// the persisted status against the manager's live view, so a crashed
// worker or restarted process surfaces as an explicit correction.
type AgentService struct {
	store   domain.Store
	manager *manager.Manager
	logger  *slog.Logger
}

// NewAgentService creates an AgentService.
func NewAgentService(store domain.Store, mgr *manager.Manager, logger *slog.Logger) *AgentService {
	return &AgentService{
		store:   store,
		manager: mgr,
		logger:  logger.With(slog.String("component", "agent_service")),
	}
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Name    string
	Kind    domain.StrategyKind
	Config  map[string]any
	GroupID *int64
}

// Create validates and persists a new agent in status created.
func (s *AgentService) Create(ctx context.Context, in CreateInput) (domain.Agent, error) {
	if in.Name == "" {
		return domain.Agent{}, domain.Validation("name", "required")
	}
	if !domain.ValidKind(in.Kind) {
		return domain.Agent{}, domain.Validation("kind", "unknown strategy kind %q", in.Kind)
	}
	if err := domain.ValidateStrategyConfig(in.Kind, in.Config); err != nil {
		return domain.Agent{}, err
	}
	if in.GroupID != nil {
		if _, err := s.store.Groups().GetByID(ctx, *in.GroupID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Agent{}, domain.Validation("group_id", "group %d does not exist", *in.GroupID)
			}
			return domain.Agent{}, err
		}
	}

	agent, err := s.store.Agents().Create(ctx, domain.Agent{
		Name:    in.Name,
		Kind:    in.Kind,
		Config:  in.Config,
		GroupID: in.GroupID,
	})
	if err != nil {
		return domain.Agent{}, err
	}
	s.logger.Info("agent created",
		slog.Int64("agent_id", agent.ID),
		slog.String("name", agent.Name),
		slog.String("kind", string(agent.Kind)))
	return agent, nil
}

// Get returns the agent with its status reconciled.
func (s *AgentService) Get(ctx context.Context, id int64) (domain.Agent, error) {
	agent, err := s.store.Agents().GetByID(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	return s.reconcile(ctx, agent), nil
}

// List returns agents with statuses reconciled.
func (s *AgentService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Agent, error) {
	agents, err := s.store.Agents().List(ctx, opts)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		agents[i] = s.reconcile(ctx, agents[i])
	}
	return agents, nil
}

// reconcile aligns a persisted status with the manager's live view and
// persists the correction when they disagree.
func (s *AgentService) reconcile(ctx context.Context, agent domain.Agent) domain.Agent {
	live := s.manager.IsRunning(agent.ID)
	persisted := agent.Status == domain.StatusRunning || agent.Status == domain.StatusStarting

	switch {
	case persisted && !live:
		agent.Status = domain.StatusError
		agent.StatusMessage = msgProcessLost
	case !persisted && live:
		agent.Status = domain.StatusRunning
		agent.StatusMessage = msgStatusCorrected
	default:
		return agent
	}

	s.logger.Warn("reconciled agent status",
		slog.Int64("agent_id", agent.ID),
		slog.String("status", string(agent.Status)))
	if err := s.store.Agents().UpdateStatus(ctx, agent.ID, agent.Status, agent.StatusMessage); err != nil {
		s.logger.Error("persist reconciled status", slog.Any("error", err))
	}
	return agent
}

// UpdateInput is the payload for Update. Nil fields are left unchanged.
type UpdateInput struct {
	Name       *string
	Config     map[string]any
	GroupID    *int64
	ClearGroup bool
}

// Update applies a partial update. Config changes are refused while the
// agent runs; stop it first.
func (s *AgentService) Update(ctx context.Context, id int64, in UpdateInput) (domain.Agent, error) {
	agent, err := s.store.Agents().GetByID(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}

	if in.Config != nil {
		if s.manager.IsRunning(id) {
			return domain.Agent{}, domain.ErrAlreadyRunning
		}
		if err := domain.ValidateStrategyConfig(agent.Kind, in.Config); err != nil {
			return domain.Agent{}, err
		}
	}
	if in.Name != nil && *in.Name == "" {
		return domain.Agent{}, domain.Validation("name", "required")
	}
	if in.GroupID != nil && !in.ClearGroup {
		if _, err := s.store.Groups().GetByID(ctx, *in.GroupID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Agent{}, domain.Validation("group_id", "group %d does not exist", *in.GroupID)
			}
			return domain.Agent{}, err
		}
	}

	return s.store.Agents().Update(ctx, id, domain.AgentUpdate{
		Name:       in.Name,
		Config:     in.Config,
		GroupID:    in.GroupID,
		ClearGroup: in.ClearGroup,
	})
}

// Delete stops the agent if it runs, then removes it and its trades.
func (s *AgentService) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.Agents().GetByID(ctx, id); err != nil {
		return err
	}
	if s.manager.IsRunning(id) {
		if err := s.manager.StopAgent(ctx, id, stopTimeout); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			return err
		}
	}
	if err := s.store.Agents().Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("agent deleted", slog.Int64("agent_id", id))
	return nil
}

// Start launches the agent's worker. A start failure that is not a
// validation or conflict error is persisted as an error status.
func (s *AgentService) Start(ctx context.Context, id int64) (domain.Agent, error) {
	agent, err := s.store.Agents().GetByID(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if s.manager.IsRunning(id) {
		return domain.Agent{}, domain.ErrAlreadyRunning
	}

	if err := s.manager.StartAgent(ctx, agent); err != nil {
		if !domain.IsValidation(err) &&
			!errors.Is(err, domain.ErrAlreadyRunning) &&
			!errors.Is(err, domain.ErrExchangeNotReady) {
			_ = s.store.Agents().UpdateStatus(ctx, id, domain.StatusError, fmt.Sprintf("start failed: %v", err))
		}
		return domain.Agent{}, err
	}
	return s.store.Agents().GetByID(ctx, id)
}

// Stop requests a cooperative stop and waits for the loop to exit. A
// persisted running status without a live worker is corrected instead.
func (s *AgentService) Stop(ctx context.Context, id int64) (domain.Agent, error) {
	agent, err := s.store.Agents().GetByID(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if !s.manager.IsRunning(id) {
		agent = s.reconcile(ctx, agent)
		return agent, domain.ErrNotRunning
	}

	if err := s.store.Agents().UpdateStatus(ctx, id, domain.StatusStopping, ""); err != nil {
		s.logger.Error("persist stopping status", slog.Any("error", err))
	}
	if err := s.manager.StopAgent(ctx, id, stopTimeout); err != nil {
		return domain.Agent{}, err
	}
	return s.store.Agents().GetByID(ctx, id)
}

// Performance bundles an agent's PnL summary with its recent trades.
type Performance struct {
	Agent  domain.Agent
	Pnl    domain.PnlSummary
	Trades []domain.Trade
}

// GetPerformance returns the agent's realized PnL and recent fills.
func (s *AgentService) GetPerformance(ctx context.Context, id int64, opts domain.ListOpts) (Performance, error) {
	agent, err := s.Get(ctx, id)
	if err != nil {
		return Performance{}, err
	}
	pnl, err := s.store.Trades().AgentPnl(ctx, id)
	if err != nil {
		return Performance{}, err
	}
	if opts.Limit == 0 {
		opts.Limit = 50
	}
	trades, err := s.store.Trades().ListForAgent(ctx, id, opts)
	if err != nil {
		return Performance{}, err
	}
	return Performance{Agent: agent, Pnl: pnl, Trades: trades}, nil
}

// ListTrades returns the agent's fills, most recent first.
func (s *AgentService) ListTrades(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.Trade, error) {
	if _, err := s.store.Agents().GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Trades().ListForAgent(ctx, id, opts)
}
