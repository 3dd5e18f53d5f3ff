package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Skip  int
	Limit int
}

// AgentUpdate is a partial update for a persisted agent. Nil fields are left
// untouched; ClearGroup removes the group association.
type AgentUpdate struct {
	Name       *string
	Config     map[string]any
	GroupID    *int64
	ClearGroup bool
}

// GroupUpdate is a partial update for a persisted group. Nil fields are left
// untouched.
type GroupUpdate struct {
	Name        *string
	Description *string
}

// GroupStore persists agent groups.
type GroupStore interface {
	Create(ctx context.Context, g AgentGroup) (AgentGroup, error)
	GetByID(ctx context.Context, id int64) (AgentGroup, error)
	GetByName(ctx context.Context, name string) (AgentGroup, error)
	List(ctx context.Context, opts ListOpts) ([]AgentGroup, error)
	Update(ctx context.Context, id int64, upd GroupUpdate) (AgentGroup, error)
	// Delete fails with ErrGroupNotEmpty while agents still reference the group.
	Delete(ctx context.Context, id int64) error
}

// AgentStore persists agents.
type AgentStore interface {
	Create(ctx context.Context, a Agent) (Agent, error)
	GetByID(ctx context.Context, id int64) (Agent, error)
	List(ctx context.Context, opts ListOpts) ([]Agent, error)
	ListByGroup(ctx context.Context, groupID int64) ([]Agent, error)
	Update(ctx context.Context, id int64, upd AgentUpdate) (Agent, error)
	UpdateStatus(ctx context.Context, id int64, status AgentStatus, message string) error
	Delete(ctx context.Context, id int64) error
}

// TradeStore persists fills.
type TradeStore interface {
	// Create inserts a trade; a duplicate OrderID fails with ErrAlreadyExists.
	Create(ctx context.Context, t Trade) (Trade, error)
	ListForAgent(ctx context.Context, agentID int64, opts ListOpts) ([]Trade, error)
	// ListBefore returns trades older than cutoff, oldest first, for archival.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	AgentPnl(ctx context.Context, agentID int64) (PnlSummary, error)
	GroupPnl(ctx context.Context, groupID int64) (GroupPnlSummary, error)
}

// Store bundles the persistence contract. Open vends an independent session
// bound to the same database so each worker goroutine can hold its own
// connection lifecycle.
type Store interface {
	Groups() GroupStore
	Agents() AgentStore
	Trades() TradeStore
	Open(ctx context.Context) (Store, error)
	Ping(ctx context.Context) error
	Close() error
}
