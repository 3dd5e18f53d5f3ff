// Package notify forwards selected fleet events to operator channels such
// as Telegram and Discord.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// sendTimeout bounds a single delivery attempt.
const sendTimeout = 10 * time.Second

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every configured sender. The events list
// filters which bus event types produce an alert; an empty list allows
// all of them.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Watch subscribes the notifier to the fleet event channel. Worker
// failures and arbitrage signals become operator alerts.
func (n *Notifier) Watch(bus domain.Bus) error {
	if len(n.senders) == 0 {
		return nil
	}
	return bus.Subscribe(domain.ChannelAgentEvents, n.handle)
}

func (n *Notifier) handle(env domain.Envelope) {
	title, message, ok := format(env)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := n.Notify(ctx, env.Type, title, message); err != nil {
		n.logger.Error("notification delivery failed", slog.Any("error", err))
	}
}

// format renders an envelope into an alert. Events that are operator
// noise return ok=false.
func format(env domain.Envelope) (title, message string, ok bool) {
	switch env.Type {
	case domain.EventStatusChange:
		status, _ := env.Payload["status"].(string)
		if status != string(domain.StatusError) {
			return "", "", false
		}
		msg, _ := env.Payload["message"].(string)
		return fmt.Sprintf("Agent %d failed", env.AgentID),
			fmt.Sprintf("status: %s\n%s", status, msg), true

	case domain.EventArbDetected:
		return fmt.Sprintf("Arbitrage signal from agent %d", env.AgentID),
			fmt.Sprintf("profit_pct: %v\npairs: %v",
				env.Payload["profit_pct"], env.Payload["pairs"]), true

	default:
		return "", "", false
	}
}

// Notify delivers to every sender when the event type passes the filter.
// Individual sender failures are collected so one bad channel does not
// block the rest.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.Any("error", err))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
