// Package sqlite implements the domain store interfaces on a local SQLite
// file via database/sql. Decimal values are stored as TEXT to avoid float
// rounding.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_groups (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS agents (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    name           TEXT NOT NULL UNIQUE,
    kind           TEXT NOT NULL,
    config_json    TEXT NOT NULL DEFAULT '{}',
    status         TEXT NOT NULL DEFAULT 'created',
    status_message TEXT NOT NULL DEFAULT '',
    group_id       INTEGER REFERENCES agent_groups(id) ON DELETE SET NULL,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_agents_group_id ON agents(group_id);

CREATE TABLE IF NOT EXISTS trades (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id         INTEGER NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    order_id         TEXT NOT NULL UNIQUE,
    client_order_id  TEXT NOT NULL DEFAULT '',
    symbol           TEXT NOT NULL,
    side             TEXT NOT NULL,
    price            TEXT NOT NULL,
    quantity         TEXT NOT NULL,
    quote_quantity   TEXT NOT NULL,
    commission       TEXT NOT NULL DEFAULT '0',
    commission_asset TEXT NOT NULL DEFAULT '',
    pnl_usd          TEXT,
    timestamp        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trades_agent_ts ON trades(agent_id, timestamp DESC);
`

// Store implements domain.Store on SQLite. database/sql pools connections
// internally, so sessions vended by Open share the handle; only the root
// Close tears it down.
type Store struct {
	db   *sql.DB
	root bool
}

// New opens (or creates) the SQLite database at path and applies the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	// WAL keeps readers unblocked while a worker session writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db, root: true}, nil
}

// Groups returns the group store.
func (s *Store) Groups() domain.GroupStore { return &GroupStore{db: s.db} }

// Agents returns the agent store.
func (s *Store) Agents() domain.AgentStore { return &AgentStore{db: s.db} }

// Trades returns the trade store.
func (s *Store) Trades() domain.TradeStore { return &TradeStore{db: s.db} }

// Open vends a child session sharing the database handle.
func (s *Store) Open(ctx context.Context) (domain.Store, error) {
	return &Store{db: s.db}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close shuts down the database handle when called on the root store.
func (s *Store) Close() error {
	if s.root {
		return s.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
