package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// AgentStore implements domain.AgentStore on SQLite. The strategy config
// document is stored as a JSON string.
type AgentStore struct {
	db *sql.DB
}

const agentSelectCols = `id, name, kind, config_json, status, status_message,
	group_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var (
		a   domain.Agent
		cfg string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Kind, &cfg, &a.Status,
		&a.StatusMessage, &a.GroupID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Agent{}, err
	}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &a.Config); err != nil {
			return domain.Agent{}, fmt.Errorf("decode config: %w", err)
		}
	}
	return a, nil
}

// Create inserts an agent with status "created" and returns it with its
// assigned ID.
func (s *AgentStore) Create(ctx context.Context, a domain.Agent) (domain.Agent, error) {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("sqlite: encode agent config: %w", err)
	}

	now := time.Now().UTC()
	a.Status = domain.StatusCreated
	a.CreatedAt, a.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (name, kind, config_json, status, group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Kind, string(cfg), a.Status, a.GroupID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Agent{}, domain.ErrDuplicateName
		}
		return domain.Agent{}, fmt.Errorf("sqlite: create agent: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return domain.Agent{}, fmt.Errorf("sqlite: create agent id: %w", err)
	}
	return a, nil
}

// GetByID returns the agent with the given ID.
func (s *AgentStore) GetByID(ctx context.Context, id int64) (domain.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agent{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("sqlite: get agent %d: %w", id, err)
	}
	return a, nil
}

// List returns agents ordered by ID with pagination.
func (s *AgentStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Agent, error) {
	query := `SELECT ` + agentSelectCols + ` FROM agents ORDER BY id`
	args := []any{}
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
		return nil, fmt.Errorf("sqlite: list agents: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListByGroup returns all agents belonging to the given group.
func (s *AgentStore) ListByGroup(ctx context.Context, groupID int64) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list agents by group: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows *sql.Rows) ([]domain.Agent, error) {
	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Update applies a partial update and returns the updated agent.
func (s *AgentStore) Update(ctx context.Context, id int64, upd domain.AgentUpdate) (domain.Agent, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Config != nil {
		cfg, err := json.Marshal(upd.Config)
		if err != nil {
			return domain.Agent{}, fmt.Errorf("sqlite: encode agent config: %w", err)
		}
		sets = append(sets, "config_json = ?")
		args = append(args, string(cfg))
	}
	if upd.ClearGroup {
		sets = append(sets, "group_id = NULL")
	} else if upd.GroupID != nil {
		sets = append(sets, "group_id = ?")
		args = append(args, *upd.GroupID)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Agent{}, domain.ErrDuplicateName
		}
		return domain.Agent{}, fmt.Errorf("sqlite: update agent %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Agent{}, fmt.Errorf("sqlite: update agent %d: %w", id, err)
	}
	if n == 0 {
		return domain.Agent{}, domain.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// UpdateStatus sets the lifecycle status and message.
func (s *AgentStore) UpdateStatus(ctx context.Context, id int64, status domain.AgentStatus, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, status_message = ?, updated_at = ? WHERE id = ?`,
		status, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: update agent %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update agent %d status: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes an agent; its trades go with it via ON DELETE CASCADE.
func (s *AgentStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete agent %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete agent %d: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
