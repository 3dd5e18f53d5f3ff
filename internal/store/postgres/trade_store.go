package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

const tradeSelectCols = `id, agent_id, order_id, client_order_id, symbol, side, price, quantity,
	quote_quantity, commission, commission_asset, pnl_usd, timestamp`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t   domain.Trade
		pnl decimal.NullDecimal
	)
	err := row.Scan(&t.ID, &t.AgentID, &t.OrderID, &t.ClientOrderID, &t.Symbol, &t.Side,
		&t.Price, &t.Quantity, &t.QuoteQuantity, &t.Commission,
		&t.CommissionAsset, &pnl, &t.Timestamp)
	if err != nil {
		return domain.Trade{}, err
	}
	if pnl.Valid {
		t.PnlUSD = &pnl.Decimal
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a trade. A duplicate order ID fails with ErrAlreadyExists
// so callers can treat repeated fill observations as no-ops.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	var pnl decimal.NullDecimal
	if t.PnlUSD != nil {
		pnl = decimal.NullDecimal{Decimal: *t.PnlUSD, Valid: true}
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO trades (agent_id, order_id, client_order_id, symbol, side, price, quantity,
			quote_quantity, commission, commission_asset, pnl_usd, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		t.AgentID, t.OrderID, t.ClientOrderID, t.Symbol, t.Side, t.Price, t.Quantity,
		t.QuoteQuantity, t.Commission, t.CommissionAsset, pnl, t.Timestamp,
	).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Trade{}, domain.ErrAlreadyExists
		}
		return domain.Trade{}, fmt.Errorf("postgres: create trade: %w", err)
	}
	return t, nil
}

// ListForAgent returns an agent's trades, most recent first.
func (s *TradeStore) ListForAgent(ctx context.Context, agentID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE agent_id = $1 ORDER BY timestamp DESC`
	args := []any{agentID}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Skip > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Skip)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades older than cutoff, oldest first, for archival.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE timestamp < $1 ORDER BY timestamp ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes trades older than cutoff and returns the count.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM trades WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AgentPnl aggregates realized profit for one agent.
func (s *TradeStore) AgentPnl(ctx context.Context, agentID int64) (domain.PnlSummary, error) {
	sum := domain.PnlSummary{AgentID: agentID}
	var total, last24 decimal.NullDecimal

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       SUM(pnl_usd),
		       SUM(pnl_usd) FILTER (WHERE timestamp >= NOW() - INTERVAL '24 hours')
		FROM trades WHERE agent_id = $1`, agentID,
	).Scan(&sum.TradeCount, &total, &last24)
	if err != nil {
		return domain.PnlSummary{}, fmt.Errorf("postgres: agent %d pnl: %w", agentID, err)
	}
	if total.Valid {
		sum.RealizedTotal = total.Decimal
	}
	if last24.Valid {
		sum.Realized24h = last24.Decimal
	}
	return sum, nil
}

// GroupPnl aggregates realized profit across a group's agents.
func (s *TradeStore) GroupPnl(ctx context.Context, groupID int64) (domain.GroupPnlSummary, error) {
	out := domain.GroupPnlSummary{
		GroupID:  groupID,
		PerAgent: map[int64]decimal.Decimal{},
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, COALESCE(SUM(t.pnl_usd), 0)
		FROM agents a
		LEFT JOIN trades t ON t.agent_id = a.id
		WHERE a.group_id = $1
		GROUP BY a.id`, groupID)
	if err != nil {
		return domain.GroupPnlSummary{}, fmt.Errorf("postgres: group %d pnl: %w", groupID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			agentID int64
			pnl     decimal.Decimal
		)
		if err := rows.Scan(&agentID, &pnl); err != nil {
			return domain.GroupPnlSummary{}, fmt.Errorf("postgres: scan group pnl: %w", err)
		}
		out.PerAgent[agentID] = pnl
		out.RealizedTotal = out.RealizedTotal.Add(pnl)
		out.TotalAgents++
	}
	return out, rows.Err()
}
