package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// TradeStore implements domain.TradeStore on SQLite. Decimal columns are
// TEXT; aggregation happens in Go rather than SQL so the arithmetic stays
// exact.
type TradeStore struct {
	db *sql.DB
}

const tradeSelectCols = `id, agent_id, order_id, client_order_id, symbol, side, price, quantity,
	quote_quantity, commission, commission_asset, pnl_usd, timestamp`

func scanTrade(row rowScanner) (domain.Trade, error) {
	var (
		t                 domain.Trade
		price, qty, quote string
		commission        string
		pnl               sql.NullString
	)
	err := row.Scan(&t.ID, &t.AgentID, &t.OrderID, &t.ClientOrderID, &t.Symbol, &t.Side,
		&price, &qty, &quote, &commission, &t.CommissionAsset, &pnl, &t.Timestamp)
	if err != nil {
		return domain.Trade{}, err
	}

	if t.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Trade{}, fmt.Errorf("parse price: %w", err)
	}
	if t.Quantity, err = decimal.NewFromString(qty); err != nil {
		return domain.Trade{}, fmt.Errorf("parse quantity: %w", err)
	}
	if t.QuoteQuantity, err = decimal.NewFromString(quote); err != nil {
		return domain.Trade{}, fmt.Errorf("parse quote quantity: %w", err)
	}
	if t.Commission, err = decimal.NewFromString(commission); err != nil {
		return domain.Trade{}, fmt.Errorf("parse commission: %w", err)
	}
	if pnl.Valid {
		d, err := decimal.NewFromString(pnl.String)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("parse pnl: %w", err)
		}
		t.PnlUSD = &d
	}
	return t, nil
}

func collectTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a trade. A duplicate order ID fails with ErrAlreadyExists.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	var pnl any
	if t.PnlUSD != nil {
		pnl = t.PnlUSD.String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (agent_id, order_id, client_order_id, symbol, side, price, quantity,
			quote_quantity, commission, commission_asset, pnl_usd, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AgentID, t.OrderID, t.ClientOrderID, t.Symbol, t.Side, t.Price.String(),
		t.Quantity.String(), t.QuoteQuantity.String(), t.Commission.String(),
		t.CommissionAsset, pnl, t.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Trade{}, domain.ErrAlreadyExists
		}
		return domain.Trade{}, fmt.Errorf("sqlite: create trade: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: create trade id: %w", err)
	}
	return t, nil
}

// ListForAgent returns an agent's trades, most recent first.
func (s *TradeStore) ListForAgent(ctx context.Context, agentID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE agent_id = ? ORDER BY timestamp DESC, id DESC`
	args := []any{agentID}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Skip > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Skip)
		}
	} else if opts.Skip > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades for agent %d: %w", agentID, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListBefore returns trades older than cutoff, oldest first, for archival.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE timestamp < ? ORDER BY timestamp ASC, id ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades before: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// DeleteBefore deletes trades older than cutoff and returns the count.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM trades WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete trades before: %w", err)
	}
	return res.RowsAffected()
}

// AgentPnl aggregates realized profit for one agent.
func (s *TradeStore) AgentPnl(ctx context.Context, agentID int64) (domain.PnlSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pnl_usd, timestamp FROM trades WHERE agent_id = ?", agentID)
	if err != nil {
		return domain.PnlSummary{}, fmt.Errorf("sqlite: agent %d pnl: %w", agentID, err)
	}
	defer rows.Close()

	sum := domain.PnlSummary{AgentID: agentID}
	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	for rows.Next() {
		var (
			pnl sql.NullString
			ts  time.Time
		)
		if err := rows.Scan(&pnl, &ts); err != nil {
			return domain.PnlSummary{}, fmt.Errorf("sqlite: scan pnl: %w", err)
		}
		sum.TradeCount++
		if !pnl.Valid {
			continue
		}
		d, err := decimal.NewFromString(pnl.String)
		if err != nil {
			return domain.PnlSummary{}, fmt.Errorf("sqlite: parse pnl: %w", err)
		}
		sum.RealizedTotal = sum.RealizedTotal.Add(d)
		if ts.After(dayAgo) {
			sum.Realized24h = sum.Realized24h.Add(d)
		}
	}
	return sum, rows.Err()
}

// GroupPnl aggregates realized profit across a group's agents.
func (s *TradeStore) GroupPnl(ctx context.Context, groupID int64) (domain.GroupPnlSummary, error) {
	out := domain.GroupPnlSummary{
		GroupID:  groupID,
		PerAgent: map[int64]decimal.Decimal{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, t.pnl_usd
		FROM agents a
		LEFT JOIN trades t ON t.agent_id = a.id
		WHERE a.group_id = ?`, groupID)
	if err != nil {
		return domain.GroupPnlSummary{}, fmt.Errorf("sqlite: group %d pnl: %w", groupID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			agentID int64
			pnl     sql.NullString
		)
		if err := rows.Scan(&agentID, &pnl); err != nil {
			return domain.GroupPnlSummary{}, fmt.Errorf("sqlite: scan group pnl: %w", err)
		}
		if _, ok := out.PerAgent[agentID]; !ok {
			out.PerAgent[agentID] = decimal.Zero
			out.TotalAgents++
		}
		if !pnl.Valid {
			continue
		}
		d, err := decimal.NewFromString(pnl.String)
		if err != nil {
			return domain.GroupPnlSummary{}, fmt.Errorf("sqlite: parse group pnl: %w", err)
		}
		out.PerAgent[agentID] = out.PerAgent[agentID].Add(d)
		out.RealizedTotal = out.RealizedTotal.Add(d)
	}
	return out, rows.Err()
}
