package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// GroupService manages agent groups and their aggregated reads.
type GroupService struct {
	store  domain.Store
	logger *slog.Logger
}

// NewGroupService creates a GroupService.
func NewGroupService(store domain.Store, logger *slog.Logger) *GroupService {
	return &GroupService{
		store:  store,
		logger: logger.With(slog.String("component", "group_service")),
	}
}

// Create validates and persists a new group.
func (s *GroupService) Create(ctx context.Context, name, description string) (domain.AgentGroup, error) {
	if name == "" {
		return domain.AgentGroup{}, domain.Validation("name", "required")
	}
	g, err := s.store.Groups().Create(ctx, domain.AgentGroup{Name: name, Description: description})
	if err != nil {
		return domain.AgentGroup{}, err
	}
	s.logger.Info("group created", slog.Int64("group_id", g.ID), slog.String("name", g.Name))
	return g, nil
}

// Get returns a group.
func (s *GroupService) Get(ctx context.Context, id int64) (domain.AgentGroup, error) {
	return s.store.Groups().GetByID(ctx, id)
}

// GetByName returns the group with the given name.
func (s *GroupService) GetByName(ctx context.Context, name string) (domain.AgentGroup, error) {
	return s.store.Groups().GetByName(ctx, name)
}

// List returns groups with pagination.
func (s *GroupService) List(ctx context.Context, opts domain.ListOpts) ([]domain.AgentGroup, error) {
	return s.store.Groups().List(ctx, opts)
}

// Update applies a partial update. An empty name is rejected; renaming onto
// an existing group fails with ErrDuplicateName.
func (s *GroupService) Update(ctx context.Context, id int64, upd domain.GroupUpdate) (domain.AgentGroup, error) {
	if upd.Name != nil && *upd.Name == "" {
		return domain.AgentGroup{}, domain.Validation("name", "required")
	}
	g, err := s.store.Groups().Update(ctx, id, upd)
	if err != nil {
		return domain.AgentGroup{}, err
	}
	s.logger.Info("group updated", slog.Int64("group_id", g.ID), slog.String("name", g.Name))
	return g, nil
}

// Delete removes an empty group; members must be detached first.
func (s *GroupService) Delete(ctx context.Context, id int64) error {
	if err := s.store.Groups().Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("group deleted", slog.Int64("group_id", id))
	return nil
}

// Members returns the group's agents.
func (s *GroupService) Members(ctx context.Context, id int64) ([]domain.Agent, error) {
	if _, err := s.store.Groups().GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Agents().ListByGroup(ctx, id)
}

// AddAgent attaches an agent to the group.
func (s *GroupService) AddAgent(ctx context.Context, groupID, agentID int64) (domain.Agent, error) {
	if _, err := s.store.Groups().GetByID(ctx, groupID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Agent{}, domain.Validation("group_id", "group %d does not exist", groupID)
		}
		return domain.Agent{}, err
	}
	return s.store.Agents().Update(ctx, agentID, domain.AgentUpdate{GroupID: &groupID})
}

// RemoveAgent detaches an agent from whatever group it is in.
func (s *GroupService) RemoveAgent(ctx context.Context, agentID int64) (domain.Agent, error) {
	return s.store.Agents().Update(ctx, agentID, domain.AgentUpdate{ClearGroup: true})
}

// GroupPerformance bundles a group's aggregated PnL with its members.
type GroupPerformance struct {
	Group  domain.AgentGroup
	Pnl    domain.GroupPnlSummary
	Agents []domain.Agent
}

// GetPerformance returns the group's aggregated realized PnL.
func (s *GroupService) GetPerformance(ctx context.Context, id int64) (GroupPerformance, error) {
	g, err := s.store.Groups().GetByID(ctx, id)
	if err != nil {
		return GroupPerformance{}, err
	}
	pnl, err := s.store.Trades().GroupPnl(ctx, id)
	if err != nil {
		return GroupPerformance{}, err
	}
	agents, err := s.store.Agents().ListByGroup(ctx, id)
	if err != nil {
		return GroupPerformance{}, err
	}
	return GroupPerformance{Group: g, Pnl: pnl, Agents: agents}, nil
}
