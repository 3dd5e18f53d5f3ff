package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// GroupStore implements domain.GroupStore using PostgreSQL.
type GroupStore struct {
	pool *pgxpool.Pool
}

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Create inserts a group and returns it with its assigned ID.
func (s *GroupStore) Create(ctx context.Context, g domain.AgentGroup) (domain.AgentGroup, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agent_groups (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at`,
		g.Name, g.Description,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.AgentGroup{}, domain.ErrDuplicateName
		}
		return domain.AgentGroup{}, fmt.Errorf("postgres: create group: %w", err)
	}
	return g, nil
}

// GetByID returns the group with the given ID.
func (s *GroupStore) GetByID(ctx context.Context, id int64) (domain.AgentGroup, error) {
	var g domain.AgentGroup
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at
		FROM agent_groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AgentGroup{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AgentGroup{}, fmt.Errorf("postgres: get group %d: %w", id, err)
	}
	return g, nil
}

// GetByName returns the group with the given name.
func (s *GroupStore) GetByName(ctx context.Context, name string) (domain.AgentGroup, error) {
	var g domain.AgentGroup
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at
		FROM agent_groups WHERE name = $1`, name,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AgentGroup{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AgentGroup{}, fmt.Errorf("postgres: get group %q: %w", name, err)
	}
	return g, nil
}

// List returns groups ordered by ID with pagination.
func (s *GroupStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AgentGroup, error) {
	query := `SELECT id, name, description, created_at FROM agent_groups ORDER BY id`
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
		return nil, fmt.Errorf("postgres: list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.AgentGroup
	for rows.Next() {
		var g domain.AgentGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Update applies a partial update and returns the stored row.
func (s *GroupStore) Update(ctx context.Context, id int64, upd domain.GroupUpdate) (domain.AgentGroup, error) {
	set := []string{}
	args := []any{}
	if upd.Name != nil {
		args = append(args, *upd.Name)
		set = append(set, fmt.Sprintf("name = $%d", len(args)))
	}
	if upd.Description != nil {
		args = append(args, *upd.Description)
		set = append(set, fmt.Sprintf("description = $%d", len(args)))
	}
	if len(set) == 0 {
		return s.GetByID(ctx, id)
	}
	args = append(args, id)

	var g domain.AgentGroup
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE agent_groups SET %s WHERE id = $%d
		RETURNING id, name, description, created_at`,
		strings.Join(set, ", "), len(args)), args...,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AgentGroup{}, domain.ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.AgentGroup{}, domain.ErrDuplicateName
		}
		return domain.AgentGroup{}, fmt.Errorf("postgres: update group %d: %w", id, err)
	}
	return g, nil
}

// Delete removes a group. It fails with ErrGroupNotEmpty while agents still
// reference the group and ErrNotFound when the group does not exist.
func (s *GroupStore) Delete(ctx context.Context, id int64) error {
	var count int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM agents WHERE group_id = $1", id).Scan(&count)
	if err != nil {
		return fmt.Errorf("postgres: count group members: %w", err)
	}
	if count > 0 {
		return domain.ErrGroupNotEmpty
	}

	tag, err := s.pool.Exec(ctx, "DELETE FROM agent_groups WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete group %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
