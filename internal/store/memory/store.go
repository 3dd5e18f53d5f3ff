// Package memory implements the domain store interfaces on in-process maps.
// It backs tests and exercises the same contract as the SQL stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// Store implements domain.Store on mutex-guarded maps. Each entity keeps
// its own ID sequence, matching the per-table sequences of the SQL stores.
type Store struct {
	mu          sync.RWMutex
	groups      map[int64]domain.AgentGroup
	agents      map[int64]domain.Agent
	trades      map[int64]domain.Trade
	orders      map[string]int64 // order_id -> trade id
	nextGroupID int64
	nextAgentID int64
	nextTradeID int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		groups: map[int64]domain.AgentGroup{},
		agents: map[int64]domain.Agent{},
		trades: map[int64]domain.Trade{},
		orders: map[string]int64{},
	}
}

// Groups returns the group store.
func (s *Store) Groups() domain.GroupStore { return (*groupStore)(s) }

// Agents returns the agent store.
func (s *Store) Agents() domain.AgentStore { return (*agentStore)(s) }

// Trades returns the trade store.
func (s *Store) Trades() domain.TradeStore { return (*tradeStore)(s) }

// Open vends a session sharing the same maps.
func (s *Store) Open(ctx context.Context) (domain.Store, error) { return s, nil }

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ---------------------------------------------------------------------------
// groups
// ---------------------------------------------------------------------------

type groupStore Store

func (s *groupStore) Create(ctx context.Context, g domain.AgentGroup) (domain.AgentGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if existing.Name == g.Name {
			return domain.AgentGroup{}, domain.ErrDuplicateName
		}
	}
	s.nextGroupID++
	g.ID = s.nextGroupID
	g.CreatedAt = time.Now().UTC()
	s.groups[g.ID] = g
	return g, nil
}

func (s *groupStore) GetByID(ctx context.Context, id int64) (domain.AgentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return domain.AgentGroup{}, domain.ErrNotFound
	}
	return g, nil
}

func (s *groupStore) GetByName(ctx context.Context, name string) (domain.AgentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.Name == name {
			return g, nil
		}
	}
	return domain.AgentGroup{}, domain.ErrNotFound
}

func (s *groupStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AgentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AgentGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (s *groupStore) Update(ctx context.Context, id int64, upd domain.GroupUpdate) (domain.AgentGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return domain.AgentGroup{}, domain.ErrNotFound
	}
	if upd.Name != nil {
		for _, existing := range s.groups {
			if existing.ID != id && existing.Name == *upd.Name {
				return domain.AgentGroup{}, domain.ErrDuplicateName
			}
		}
		g.Name = *upd.Name
	}
	if upd.Description != nil {
		g.Description = *upd.Description
	}
	s.groups[id] = g
	return g, nil
}

func (s *groupStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return domain.ErrNotFound
	}
	for _, a := range s.agents {
		if a.GroupID != nil && *a.GroupID == id {
			return domain.ErrGroupNotEmpty
		}
	}
	delete(s.groups, id)
	return nil
}

// ---------------------------------------------------------------------------
// agents
// ---------------------------------------------------------------------------

type agentStore Store

func (s *agentStore) Create(ctx context.Context, a domain.Agent) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.agents {
		if existing.Name == a.Name {
			return domain.Agent{}, domain.ErrDuplicateName
		}
	}
	s.nextAgentID++
	a.ID = s.nextAgentID
	a.Status = domain.StatusCreated
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	s.agents[a.ID] = a
	return a, nil
}

func (s *agentStore) GetByID(ctx context.Context, id int64) (domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *agentStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (s *agentStore) ListByGroup(ctx context.Context, groupID int64) ([]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Agent
	for _, a := range s.agents {
		if a.GroupID != nil && *a.GroupID == groupID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *agentStore) Update(ctx context.Context, id int64, upd domain.AgentUpdate) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	if upd.Name != nil {
		for _, existing := range s.agents {
			if existing.ID != id && existing.Name == *upd.Name {
				return domain.Agent{}, domain.ErrDuplicateName
			}
		}
		a.Name = *upd.Name
	}
	if upd.Config != nil {
		a.Config = upd.Config
	}
	if upd.ClearGroup {
		a.GroupID = nil
	} else if upd.GroupID != nil {
		gid := *upd.GroupID
		a.GroupID = &gid
	}
	a.UpdatedAt = time.Now().UTC()
	s.agents[id] = a
	return a, nil
}

func (s *agentStore) UpdateStatus(ctx context.Context, id int64, status domain.AgentStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	a.StatusMessage = message
	a.UpdatedAt = time.Now().UTC()
	s.agents[id] = a
	return nil
}

func (s *agentStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.agents, id)
	for tid, t := range s.trades {
		if t.AgentID == id {
			delete(s.orders, t.OrderID)
			delete(s.trades, tid)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// trades
// ---------------------------------------------------------------------------

type tradeStore Store

func (s *tradeStore) Create(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[t.OrderID]; ok {
		return domain.Trade{}, domain.ErrAlreadyExists
	}
	s.nextTradeID++
	t.ID = s.nextTradeID
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	s.trades[t.ID] = t
	s.orders[t.OrderID] = t.ID
	return t, nil
}

func (s *tradeStore) ListForAgent(ctx context.Context, agentID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.AgentID == agentID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return paginate(out, opts), nil
}

func (s *tradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Timestamp.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *tradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.trades {
		if t.Timestamp.Before(cutoff) {
			delete(s.orders, t.OrderID)
			delete(s.trades, id)
			n++
		}
	}
	return n, nil
}

func (s *tradeStore) AgentPnl(ctx context.Context, agentID int64) (domain.PnlSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := domain.PnlSummary{AgentID: agentID}
	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	for _, t := range s.trades {
		if t.AgentID != agentID {
			continue
		}
		sum.TradeCount++
		if t.PnlUSD == nil {
			continue
		}
		sum.RealizedTotal = sum.RealizedTotal.Add(*t.PnlUSD)
		if t.Timestamp.After(dayAgo) {
			sum.Realized24h = sum.Realized24h.Add(*t.PnlUSD)
		}
	}
	return sum, nil
}

func (s *tradeStore) GroupPnl(ctx context.Context, groupID int64) (domain.GroupPnlSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.GroupPnlSummary{
		GroupID:  groupID,
		PerAgent: map[int64]decimal.Decimal{},
	}
	for _, a := range s.agents {
		if a.GroupID == nil || *a.GroupID != groupID {
			continue
		}
		out.TotalAgents++
		out.PerAgent[a.ID] = decimal.Zero
		for _, t := range s.trades {
			if t.AgentID == a.ID && t.PnlUSD != nil {
				out.PerAgent[a.ID] = out.PerAgent[a.ID].Add(*t.PnlUSD)
				out.RealizedTotal = out.RealizedTotal.Add(*t.PnlUSD)
			}
		}
	}
	return out, nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Skip > 0 {
		if opts.Skip >= len(items) {
			return nil
		}
		items = items[opts.Skip:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
