// Package analyzer watches realized performance and feeds adaptation hints
// back to the fleet over the bus.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// slopeThreshold is the cumulative-PnL-per-second slope below which an
// agent counts as trending down.
const slopeThreshold = -0.0001

// throttledLoopInterval is the tick period suggested to downtrending
// agents; slower ticks mean fewer fills while the trend lasts.
const throttledLoopInterval = 30

// minTrades is the fewest fills a trend fit needs to mean anything.
const minTrades = 3

// Analyzer periodically fits each agent's cumulative realized PnL and
// publishes suggestions and group insights.
type Analyzer struct {
	store    domain.Store
	bus      domain.Bus
	logger   *slog.Logger
	interval time.Duration
}

// New creates an Analyzer that scans every interval.
func New(store domain.Store, bus domain.Bus, interval time.Duration, logger *slog.Logger) *Analyzer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Analyzer{
		store:    store,
		bus:      bus,
		logger:   logger.With(slog.String("component", "analyzer")),
		interval: interval,
	}
}

// Run scans on a ticker until the context is cancelled.
func (a *Analyzer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.scan(ctx)
		}
	}
}

func (a *Analyzer) scan(ctx context.Context) {
	agents, err := a.store.Agents().List(ctx, domain.ListOpts{})
	if err != nil {
		a.logger.Error("list agents", slog.Any("error", err))
		return
	}
	for _, agent := range agents {
		if agent.Status != domain.StatusRunning {
			continue
		}
		if err := a.AnalyzeAgent(ctx, agent.ID); err != nil {
			a.logger.Warn("agent analysis failed",
				slog.Int64("agent_id", agent.ID), slog.Any("error", err))
		}
	}

	groups, err := a.store.Groups().List(ctx, domain.ListOpts{})
	if err != nil {
		a.logger.Error("list groups", slog.Any("error", err))
		return
	}
	for _, g := range groups {
		if err := a.AnalyzeGroup(ctx, g.ID); err != nil {
			a.logger.Warn("group analysis failed",
				slog.Int64("group_id", g.ID), slog.Any("error", err))
		}
	}
}

// AnalyzeAgent fits the agent's cumulative realized PnL against elapsed
// seconds and publishes a throttle suggestion when the trend is negative.
func (a *Analyzer) AnalyzeAgent(ctx context.Context, agentID int64) error {
	slope, n, err := a.pnlSlope(ctx, agentID)
	if err != nil {
		return err
	}
	if n < minTrades || slope >= slopeThreshold {
		return nil
	}

	a.logger.Info("downtrend detected",
		slog.Int64("agent_id", agentID),
		slog.Float64("pnl_slope", slope))

	a.bus.Publish(domain.ChannelLearningModule, domain.Envelope{
		Type:    domain.EventSuggestion,
		AgentID: agentID,
		Payload: map[string]any{
			"suggestion": "realized pnl is trending down; throttling tick rate",
			"details":    map[string]any{"pnl_slope": slope, "trades": n},
			"params":     map[string]any{"loop_interval_seconds": throttledLoopInterval},
		},
	})
	return nil
}

// pnlSlope returns the least-squares slope of cumulative realized PnL over
// elapsed seconds, plus the number of realized fills fitted.
func (a *Analyzer) pnlSlope(ctx context.Context, agentID int64) (float64, int, error) {
	trades, err := a.store.Trades().ListForAgent(ctx, agentID, domain.ListOpts{})
	if err != nil {
		return 0, 0, fmt.Errorf("analyzer: trades for agent %d: %w", agentID, err)
	}

	// ListForAgent is newest first; the fit wants chronological order.
	var (
		xs, ys  []float64
		firstTS time.Time
	)
	cumulative := 0.0
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.PnlUSD == nil {
			continue
		}
		if len(xs) == 0 {
			firstTS = t.Timestamp
		}
		xs = append(xs, t.Timestamp.Sub(firstTS).Seconds())
		cumulative += t.PnlUSD.InexactFloat64()
		ys = append(ys, cumulative)
	}

	n := len(xs)
	if n < 2 {
		return 0, n, nil
	}

	// Closed-form simple linear regression.
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0, n, nil
	}
	return (fn*sumXY - sumX*sumY) / denom, n, nil
}

// AnalyzeGroup aggregates the group's realized PnL and publishes an
// insight naming the best and worst performers.
func (a *Analyzer) AnalyzeGroup(ctx context.Context, groupID int64) error {
	sum, err := a.store.Trades().GroupPnl(ctx, groupID)
	if err != nil {
		return fmt.Errorf("analyzer: group %d pnl: %w", groupID, err)
	}
	if sum.TotalAgents == 0 {
		return nil
	}

	var bestID, worstID int64
	first := true
	for id, pnl := range sum.PerAgent {
		if first {
			bestID, worstID = id, id
			first = false
			continue
		}
		if pnl.GreaterThan(sum.PerAgent[bestID]) {
			bestID = id
		}
		if pnl.LessThan(sum.PerAgent[worstID]) {
			worstID = id
		}
	}

	perAgent := make(map[string]any, len(sum.PerAgent))
	for id, pnl := range sum.PerAgent {
		perAgent[fmt.Sprintf("%d", id)] = pnl.String()
	}

	a.bus.Publish(domain.ChannelGroupUpdates, domain.Envelope{
		Type:    domain.EventInsight,
		GroupID: groupID,
		Payload: map[string]any{
			"total_agents": sum.TotalAgents,
			"realized_pnl": sum.RealizedTotal.String(),
			"per_agent":    perAgent,
			"best_agent":   bestID,
			"worst_agent":  worstID,
		},
	})
	return nil
}
