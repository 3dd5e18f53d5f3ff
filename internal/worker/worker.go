// Package worker runs one goroutine per trading agent: a strategy-agnostic
// lifecycle loop around a pluggable strategy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

const (
	// rateLimitBackoff is how long a worker parks after a venue 429.
	rateLimitBackoff = 60 * time.Second
	// transientBackoff is how long a worker parks after a retryable error.
	transientBackoff = 10 * time.Second
	// maxStatusMessage bounds persisted error text.
	maxStatusMessage = 200
)

// Strategy is the trading logic a worker drives. Init runs synchronously
// during Start so placement failures surface before the loop begins;
// CancelAll must tolerate orders that already left the book.
type Strategy interface {
	Init(ctx context.Context) error
	Tick(ctx context.Context) error
	CancelAll(ctx context.Context)
	Adapt(overrides map[string]any)
}

// Recorder persists fills and fans them out. Strategies call it whenever
// they observe a fill.
type Recorder interface {
	RecordTrade(ctx context.Context, t domain.Trade)
}

// Worker owns one agent's trading goroutine. It holds a private store
// session, closed when the loop exits, so worker persistence never
// contends with the API path's session.
type Worker struct {
	agentID  int64
	store    domain.Store
	bus      domain.Bus // nil when running bus-less
	strategy Strategy
	params   *RuntimeParams
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	failed   bool

	// backoffs are fields so tests can shrink them.
	rateLimitBackoff time.Duration
	transientBackoff time.Duration
}

// New creates a worker for the agent. The store must be a private session;
// the worker closes it on loop exit.
func New(agentID int64, store domain.Store, bus domain.Bus, params *RuntimeParams, logger *slog.Logger) *Worker {
	return &Worker{
		agentID:          agentID,
		store:            store,
		bus:              bus,
		params:           params,
		logger:           logger.With(slog.String("component", "worker"), slog.Int64("agent_id", agentID)),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
		rateLimitBackoff: rateLimitBackoff,
		transientBackoff: transientBackoff,
	}
}

// SetStrategy attaches the trading logic. Must be called before Start.
func (w *Worker) SetStrategy(s Strategy) { w.strategy = s }

// Params exposes the runtime parameter view.
func (w *Worker) Params() *RuntimeParams { return w.params }

// Start transitions the agent to starting, runs the strategy's synchronous
// initialization, and launches the trading loop. An Init failure persists
// an error status and leaves no goroutine behind.
func (w *Worker) Start(ctx context.Context) error {
	w.setStatus(ctx, domain.StatusStarting, "")

	if err := w.strategy.Init(ctx); err != nil {
		w.setStatus(ctx, domain.StatusError, truncate(err.Error()))
		_ = w.store.Close()
		close(w.done)
		return fmt.Errorf("worker: init agent %d: %w", w.agentID, err)
	}

	if w.bus != nil {
		if err := w.bus.Subscribe(domain.ChannelLearningModule, w.handleSuggestion); err != nil {
			w.logger.Warn("learning channel unavailable", slog.Any("error", err))
		}
	}

	go w.run()
	return nil
}

// Stop requests a cooperative shutdown. The loop goroutine runs the final
// cancel sweep once the in-flight tick has drained, so a fill observed
// during shutdown cannot leave a replenishment order behind. Stop does not
// wait; use Done to observe loop exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when the trading loop has fully exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Alive reports whether the trading loop is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() { _ = w.store.Close() }()

	ctx := context.Background()
	w.setStatus(ctx, domain.StatusRunning, "")
	w.logger.Info("trading loop started")

	for {
		select {
		case <-w.stop:
			w.finish(ctx)
			return
		default:
		}

		if err := w.strategy.Tick(ctx); err != nil && !w.handleTickError(ctx, err) {
			w.finish(ctx)
			return
		}

		if !w.sleep(w.params.LoopInterval()) {
			w.finish(ctx)
			return
		}
	}
}

// handleTickError classifies a tick failure. It returns false when the
// loop must terminate.
func (w *Worker) handleTickError(ctx context.Context, err error) bool {
	switch {
	case domain.IsRateLimited(err):
		w.logger.Warn("rate limited, backing off", slog.Any("error", err))
		return w.sleep(w.rateLimitBackoff)
	case domain.IsBanned(err):
		w.logger.Error("venue ban, halting", slog.Any("error", err))
		w.failed = true
		w.setStatus(ctx, domain.StatusError, truncate(err.Error()))
		return false
	case domain.IsAuth(err):
		w.logger.Error("credentials rejected, halting", slog.Any("error", err))
		w.failed = true
		w.setStatus(ctx, domain.StatusError, truncate(err.Error()))
		return false
	case domain.IsExchangeErr(err):
		w.logger.Warn("exchange error, retrying", slog.Any("error", err))
		return w.sleep(w.transientBackoff)
	default:
		w.logger.Error("unrecoverable error, halting", slog.Any("error", err))
		w.failed = true
		w.setStatus(ctx, domain.StatusError, truncate(err.Error()))
		return false
	}
}

// finish runs the final cancel sweep and persists the terminal status. A
// requested stop cancels open orders and lands on stopped; a failure keeps
// the error status written by handleTickError.
func (w *Worker) finish(ctx context.Context) {
	if w.failed {
		w.logger.Info("trading loop halted on error")
		return
	}
	w.strategy.CancelAll(ctx)
	w.setStatus(ctx, domain.StatusStopped, "")
	w.logger.Info("trading loop stopped")
}

// sleep waits d or until a stop is requested. It returns false on stop.
func (w *Worker) sleep(d time.Duration) bool {
	select {
	case <-w.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (w *Worker) setStatus(ctx context.Context, status domain.AgentStatus, message string) {
	if err := w.store.Agents().UpdateStatus(ctx, w.agentID, status, message); err != nil {
		w.logger.Error("persist status", slog.String("status", string(status)), slog.Any("error", err))
	}
	w.publish(domain.ChannelAgentEvents, domain.Envelope{
		Type:    domain.EventStatusChange,
		AgentID: w.agentID,
		Payload: map[string]any{"status": string(status), "message": message},
	})
}

// RecordTrade persists a fill and announces it. Re-observing a fill whose
// order ID is already recorded is a no-op with no announcement.
func (w *Worker) RecordTrade(ctx context.Context, t domain.Trade) {
	t.AgentID = w.agentID
	created, err := w.store.Trades().Create(ctx, t)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return
	}
	if err != nil {
		w.logger.Error("persist trade", slog.String("order_id", t.OrderID), slog.Any("error", err))
		return
	}

	payload := map[string]any{
		"order_id": created.OrderID,
		"symbol":   created.Symbol,
		"side":     string(created.Side),
		"price":    created.Price.String(),
		"quantity": created.Quantity.String(),
	}
	if created.PnlUSD != nil {
		payload["pnl_usd"] = created.PnlUSD.String()
	}

	env := domain.Envelope{
		Type:    domain.EventTradeExecuted,
		AgentID: w.agentID,
		Payload: payload,
	}
	if agent, err := w.store.Agents().GetByID(ctx, w.agentID); err == nil && agent.GroupID != nil {
		env.GroupID = *agent.GroupID
	}
	w.publish(domain.ChannelAgentEvents, env)
}

// handleSuggestion applies analyzer adaptation hints addressed to this
// agent. Only the runtime view changes; the persisted config is untouched.
func (w *Worker) handleSuggestion(env domain.Envelope) {
	if env.Type != domain.EventSuggestion || env.AgentID != w.agentID {
		return
	}
	overrides, ok := env.Payload["params"].(map[string]any)
	if !ok || len(overrides) == 0 {
		return
	}
	w.logger.Info("applying suggestion", slog.Any("params", overrides))
	w.strategy.Adapt(overrides)
}

func (w *Worker) publish(channel string, env domain.Envelope) {
	if w.bus == nil {
		return
	}
	if !w.bus.Publish(channel, env) {
		w.logger.Debug("bus publish dropped", slog.String("channel", channel), slog.String("type", env.Type))
	}
}

func truncate(s string) string {
	if len(s) > maxStatusMessage {
		return s[:maxStatusMessage]
	}
	return s
}
