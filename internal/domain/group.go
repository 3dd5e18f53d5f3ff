package domain

import "time"

// AgentGroup collects agents for aggregated analysis. Names are unique.
type AgentGroup struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}
