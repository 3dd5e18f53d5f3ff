package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// GroupStore implements domain.GroupStore on SQLite.
type GroupStore struct {
	db *sql.DB
}

// Create inserts a group and returns it with its assigned ID.
func (s *GroupStore) Create(ctx context.Context, g domain.AgentGroup) (domain.AgentGroup, error) {
	g.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO agent_groups (name, description, created_at) VALUES (?, ?, ?)",
		g.Name, g.Description, g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.AgentGroup{}, domain.ErrDuplicateName
		}
		return domain.AgentGroup{}, fmt.Errorf("sqlite: create group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return domain.AgentGroup{}, fmt.Errorf("sqlite: create group id: %w", err)
	}
	return g, nil
}

// GetByID returns the group with the given ID.
func (s *GroupStore) GetByID(ctx context.Context, id int64) (domain.AgentGroup, error) {
	var g domain.AgentGroup
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM agent_groups WHERE id = ?", id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AgentGroup{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AgentGroup{}, fmt.Errorf("sqlite: get group %d: %w", id, err)
	}
	return g, nil
}

// GetByName returns the group with the given name.
func (s *GroupStore) GetByName(ctx context.Context, name string) (domain.AgentGroup, error) {
	var g domain.AgentGroup
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM agent_groups WHERE name = ?", name,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AgentGroup{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AgentGroup{}, fmt.Errorf("sqlite: get group %q: %w", name, err)
	}
	return g, nil
}

// List returns groups ordered by ID with pagination.
func (s *GroupStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AgentGroup, error) {
	query := "SELECT id, name, description, created_at FROM agent_groups ORDER BY id"
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
		return nil, fmt.Errorf("sqlite: list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.AgentGroup
	for rows.Next() {
		var g domain.AgentGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan group: %w", err)
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
		set = append(set, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		set = append(set, "description = ?")
		args = append(args, *upd.Description)
	}
	if len(set) == 0 {
		return s.GetByID(ctx, id)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE agent_groups SET "+strings.Join(set, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.AgentGroup{}, domain.ErrDuplicateName
		}
		return domain.AgentGroup{}, fmt.Errorf("sqlite: update group %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.AgentGroup{}, fmt.Errorf("sqlite: update group %d: %w", id, err)
	}
	if n == 0 {
		return domain.AgentGroup{}, domain.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// Delete removes a group, refusing while agents still reference it.
func (s *GroupStore) Delete(ctx context.Context, id int64) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM agents WHERE group_id = ?", id).Scan(&count)
	if err != nil {
		return fmt.Errorf("sqlite: count group members: %w", err)
	}
	if count > 0 {
		return domain.ErrGroupNotEmpty
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM agent_groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete group %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete group %d: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
