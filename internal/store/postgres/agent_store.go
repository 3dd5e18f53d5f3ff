package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// AgentStore implements domain.AgentStore using PostgreSQL. The strategy
// config document travels as JSONB.
type AgentStore struct {
	pool *pgxpool.Pool
}

const agentSelectCols = `id, name, kind, config_json, status, status_message,
	group_id, created_at, updated_at`

func scanAgent(row pgx.Row) (domain.Agent, error) {
	var (
		a   domain.Agent
		cfg []byte
	)
	err := row.Scan(&a.ID, &a.Name, &a.Kind, &cfg, &a.Status,
		&a.StatusMessage, &a.GroupID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Agent{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &a.Config); err != nil {
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
		return domain.Agent{}, fmt.Errorf("postgres: encode agent config: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO agents (name, kind, config_json, status, group_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, status, created_at, updated_at`,
		a.Name, a.Kind, cfg, domain.StatusCreated, a.GroupID,
	).Scan(&a.ID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Agent{}, domain.ErrDuplicateName
		}
		return domain.Agent{}, fmt.Errorf("postgres: create agent: %w", err)
	}
	return a, nil
}

// GetByID returns the agent with the given ID.
func (s *AgentStore) GetByID(ctx context.Context, id int64) (domain.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Agent{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("postgres: get agent %d: %w", id, err)
	}
	return a, nil
}

// List returns agents ordered by ID with pagination.
func (s *AgentStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Agent, error) {
	query := `SELECT ` + agentSelectCols + ` FROM agents ORDER BY id`
	args := []any{}
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
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListByGroup returns all agents belonging to the given group.
func (s *AgentStore) ListByGroup(ctx context.Context, groupID int64) ([]domain.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE group_id = $1 ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents by group: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows pgx.Rows) ([]domain.Agent, error) {
	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Update applies a partial update and returns the updated agent.
func (s *AgentStore) Update(ctx context.Context, id int64, upd domain.AgentUpdate) (domain.Agent, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{}

	if upd.Name != nil {
		args = append(args, *upd.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if upd.Config != nil {
		cfg, err := json.Marshal(upd.Config)
		if err != nil {
			return domain.Agent{}, fmt.Errorf("postgres: encode agent config: %w", err)
		}
		args = append(args, cfg)
		sets = append(sets, fmt.Sprintf("config_json = $%d", len(args)))
	}
	if upd.ClearGroup {
		sets = append(sets, "group_id = NULL")
	} else if upd.GroupID != nil {
		args = append(args, *upd.GroupID)
		sets = append(sets, fmt.Sprintf("group_id = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE agents SET %s WHERE id = $%d RETURNING `+agentSelectCols,
		joinSets(sets), len(args))

	a, err := scanAgent(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Agent{}, domain.ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Agent{}, domain.ErrDuplicateName
		}
		return domain.Agent{}, fmt.Errorf("postgres: update agent %d: %w", id, err)
	}
	return a, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

// UpdateStatus sets the lifecycle status and message.
func (s *AgentStore) UpdateStatus(ctx context.Context, id int64, status domain.AgentStatus, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status = $1, status_message = $2, updated_at = NOW()
		WHERE id = $3`,
		status, message, id)
	if err != nil {
		return fmt.Errorf("postgres: update agent %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes an agent; its trades go with it via ON DELETE CASCADE.
func (s *AgentStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM agents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete agent %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
