// Package sqlitestore is the concrete Store adapter backed by SQLite. It
// is a thin wrapper: every method is a handful of statements against
// database/sql, with transactions for the operations that must be atomic
// (owner transfer, last-member group cascade, group and module creation,
// sequential item-id allocation, accepting an invite).
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/comcore-chat/comcore/internal/logger"
)

// Store implements store.Store over a SQLite database.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// New opens (but does not yet migrate) the database at dsn, e.g. "./comcore.db"
// or ":memory:" for tests.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" errors under concurrent dispatcher goroutines.
	db.SetMaxOpenConns(1)
	return &Store{db: db, log: logger.Global().WithPrefix("store")}, nil
}

// Initialize runs the schema migrations.
func (s *Store) Initialize(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.log.Info("store initialized")
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		two_factor_enabled INTEGER NOT NULL DEFAULT 0,
		auth_token TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		require_approval INTEGER NOT NULL DEFAULT 0,
		modified_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role INTEGER NOT NULL,
		muted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS modules (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		modified_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS item_seq (
		module_id TEXT PRIMARY KEY,
		next_id INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		module_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		sender TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		contents TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (module_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		module_id TEXT NOT NULL,
		message_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		reaction TEXT NOT NULL,
		PRIMARY KEY (module_id, message_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		module_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		description TEXT NOT NULL,
		deadline INTEGER NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (module_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		module_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		description TEXT NOT NULL,
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0,
		bulletin INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (module_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS polls (
		module_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		description TEXT NOT NULL,
		options TEXT NOT NULL,
		PRIMARY KEY (module_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS poll_votes (
		module_id TEXT NOT NULL,
		poll_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		option INTEGER NOT NULL,
		PRIMARY KEY (module_id, poll_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS invites (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		group_name TEXT NOT NULL,
		inviter_name TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS invite_links (
		code TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		expire_at INTEGER NOT NULL
	)`,
}

// nextItemID allocates the next sequential id for a module within tx.
// Ids stay dense and monotonic; a deleted item's id is never reissued.
func nextItemID(ctx context.Context, tx *sql.Tx, moduleID string) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `SELECT next_id FROM item_seq WHERE module_id = ?`, moduleID).Scan(&next)
	if err == sql.ErrNoRows {
		next = 1
		_, err = tx.ExecContext(ctx, `INSERT INTO item_seq (module_id, next_id) VALUES (?, ?)`, moduleID, next+1)
		if err != nil {
			return 0, err
		}
		return next, nil
	}
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE item_seq SET next_id = ? WHERE module_id = ?`, next+1, moduleID); err != nil {
		return 0, err
	}
	return next, nil
}
