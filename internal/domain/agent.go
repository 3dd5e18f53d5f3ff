package domain

import "time"

// AgentStatus is the persisted lifecycle state of an agent.
type AgentStatus string

const (
	StatusCreated  AgentStatus = "created"
	StatusStarting AgentStatus = "starting"
	StatusRunning  AgentStatus = "running"
	StatusStopping AgentStatus = "stopping"
	StatusStopped  AgentStatus = "stopped"
	StatusError    AgentStatus = "error"
)

// Terminal reports whether the status represents a halted worker.
func (s AgentStatus) Terminal() bool {
	return s == StatusStopped || s == StatusError
}

// StrategyKind selects the trading logic an agent runs.
type StrategyKind string

const (
	KindGrid      StrategyKind = "grid"
	KindArbitrage StrategyKind = "arbitrage"
)

// ValidKind reports whether k names a known strategy kind.
func ValidKind(k StrategyKind) bool {
	return k == KindGrid || k == KindArbitrage
}

// Agent is a persisted trading agent. Config holds the strategy-specific
// parameters as a free-form document validated by ParseGridConfig /
// ParseArbitrageConfig before the agent may start.
type Agent struct {
	ID            int64
	Name          string
	Kind          StrategyKind
	Config        map[string]any
	Status        AgentStatus
	StatusMessage string
	GroupID       *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
