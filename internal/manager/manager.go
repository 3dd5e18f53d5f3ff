// Package manager tracks the live worker goroutine per agent. It is the
// single source of truth for which agents actually run in this process.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/worker"
)

// RunningInfo describes one live worker.
type RunningInfo struct {
	AgentID   int64
	Kind      domain.StrategyKind
	StartedAt time.Time
}

type entry struct {
	worker    *worker.Worker
	kind      domain.StrategyKind
	startedAt time.Time
}

// Manager starts, stops, and tracks workers behind a mutex-guarded map.
// Store and exchange I/O happens outside the lock; a starting agent holds
// a placeholder slot so concurrent starts conflict immediately.
type Manager struct {
	store    domain.Store
	exchange domain.Exchange
	bus      domain.Bus // nil when running bus-less
	logger   *slog.Logger

	mu      sync.Mutex
	running map[int64]*entry
}

// New creates a Manager.
func New(store domain.Store, exchange domain.Exchange, bus domain.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		exchange: exchange,
		bus:      bus,
		logger:   logger.With(slog.String("component", "manager")),
		running:  map[int64]*entry{},
	}
}

// StartAgent validates the agent's config, builds its strategy, and starts
// a worker goroutine. It fails with ErrAlreadyRunning when a live worker
// already holds the slot and ErrExchangeNotReady when trading credentials
// are missing.
func (m *Manager) StartAgent(ctx context.Context, agent domain.Agent) error {
	if err := domain.ValidateStrategyConfig(agent.Kind, agent.Config); err != nil {
		return err
	}
	if !m.exchange.Ready() {
		return domain.ErrExchangeNotReady
	}

	m.mu.Lock()
	if e, ok := m.running[agent.ID]; ok {
		if e.worker == nil || e.worker.Alive() {
			m.mu.Unlock()
			return domain.ErrAlreadyRunning
		}
		// Dead worker whose slot was never reaped.
		delete(m.running, agent.ID)
	}
	placeholder := &entry{kind: agent.Kind, startedAt: time.Now().UTC()}
	m.running[agent.ID] = placeholder
	m.mu.Unlock()

	w, err := m.buildWorker(ctx, agent)
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		m.mu.Lock()
		delete(m.running, agent.ID)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	placeholder.worker = w
	m.mu.Unlock()

	m.logger.Info("agent started",
		slog.Int64("agent_id", agent.ID),
		slog.String("kind", string(agent.Kind)))
	return nil
}

// buildWorker opens a private store session and wires the strategy for the
// agent's kind. Config was validated before the slot was reserved.
func (m *Manager) buildWorker(ctx context.Context, agent domain.Agent) (*worker.Worker, error) {
	session, err := m.store.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("manager: open store session: %w", err)
	}

	params := worker.NewRuntimeParams(agent.Config)
	w := worker.New(agent.ID, session, m.bus, params, m.logger)

	switch agent.Kind {
	case domain.KindGrid:
		cfg, err := domain.ParseGridConfig(agent.Config)
		if err != nil {
			_ = session.Close()
			return nil, err
		}
		w.SetStrategy(worker.NewGrid(m.exchange, w, cfg, params, m.logger))
	case domain.KindArbitrage:
		cfg, err := domain.ParseArbitrageConfig(agent.Config)
		if err != nil {
			_ = session.Close()
			return nil, err
		}
		w.SetStrategy(worker.NewArbitrage(m.exchange, m.bus, agent.ID, cfg, params, m.logger))
	default:
		_ = session.Close()
		return nil, domain.Validation("kind", "unknown strategy kind %q", agent.Kind)
	}
	return w, nil
}

// StopAgent requests a cooperative stop and waits up to timeout for the
// loop to exit. It fails with ErrNotRunning when no live worker holds the
// slot.
func (m *Manager) StopAgent(ctx context.Context, agentID int64, timeout time.Duration) error {
	m.mu.Lock()
	e, ok := m.running[agentID]
	if ok {
		delete(m.running, agentID)
	}
	m.mu.Unlock()

	if !ok || e.worker == nil {
		return domain.ErrNotRunning
	}

	e.worker.Stop()
	select {
	case <-e.worker.Done():
	case <-time.After(timeout):
		m.logger.Warn("worker did not exit in time", slog.Int64("agent_id", agentID))
	}

	m.logger.Info("agent stopped", slog.Int64("agent_id", agentID))
	return nil
}

// IsRunning reports whether a live worker holds the agent's slot, reaping
// it when the goroutine has died.
func (m *Manager) IsRunning(agentID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.running[agentID]
	if !ok {
		return false
	}
	if e.worker != nil && !e.worker.Alive() {
		delete(m.running, agentID)
		return false
	}
	return true
}

// Running returns info for every live worker, reaping dead slots.
func (m *Manager) Running() []RunningInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunningInfo, 0, len(m.running))
	for id, e := range m.running {
		if e.worker != nil && !e.worker.Alive() {
			delete(m.running, id)
			continue
		}
		out = append(out, RunningInfo{AgentID: id, Kind: e.kind, StartedAt: e.startedAt})
	}
	return out
}

// StopAll stops every live worker, waiting up to timeout for each.
func (m *Manager) StopAll(ctx context.Context, timeout time.Duration) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopAgent(ctx, id, timeout); err != nil {
			m.logger.Warn("stop failed", slog.Int64("agent_id", id), slog.Any("error", err))
		}
	}
}
