package domain

// Bus channel names. Workers and the analyzer publish on agent_events and
// group_updates; workers listen on learning_module for adaptation hints.
const (
	ChannelAgentEvents    = "agent_events"
	ChannelGroupUpdates   = "group_updates"
	ChannelLearningModule = "learning_module"
)

// Envelope event types.
const (
	EventTradeExecuted = "trade_executed"
	EventStatusChange  = "status_change"
	EventSuggestion    = "suggestion"
	EventInsight       = "insight"
	EventArbDetected   = "arbitrage_detected"
)

// Envelope is the JSON message exchanged on all bus channels.
type Envelope struct {
	Type    string         `json:"type"`
	AgentID int64          `json:"agent_id,omitempty"`
	GroupID int64          `json:"group_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Handler consumes envelopes delivered by a subscription. Handlers run on
// the bus's dispatch goroutine and must not block.
type Handler func(Envelope)

// Bus is the process-wide pub/sub fabric. Publish is fire-and-forget and
// reports delivery success so callers can log and move on; a down bus must
// never stall a trading loop.
type Bus interface {
	Ready() bool
	Publish(channel string, env Envelope) bool
	Subscribe(channel string, h Handler) error
	Close() error
}
