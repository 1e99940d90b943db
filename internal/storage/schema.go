package storage

import (
	"context"
	"database/sql"
	"fmt"

	logx "castbot/pkg/logx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		chat_id INTEGER NOT NULL PRIMARY KEY,
		first_name TEXT,
		last_name TEXT,
		username TEXT,
		start_time TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		banned INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS msgs_to_delete (
		chat_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		delete_at TEXT,
		PRIMARY KEY (chat_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS send_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER,
		text TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS unconfirmed_texts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT,
		confirmation_message_id INTEGER,
		author_chat_id INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS admin_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_chat_id INTEGER NOT NULL,
		request_text TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS admin_request_confirmations (
		request_id INTEGER NOT NULL,
		admin_chat_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		PRIMARY KEY (request_id, admin_chat_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_msgs_to_delete_due ON msgs_to_delete(delete_at)`,
	`CREATE INDEX IF NOT EXISTS idx_admin_requests_candidate ON admin_requests(candidate_chat_id)`,
}

// Additive columns for databases created by older deployments.
var columnMigrations = []struct {
	table, column, ddl string
}{
	{"users", "is_admin", `ALTER TABLE users ADD COLUMN is_admin INTEGER NOT NULL DEFAULT 0`},
	{"users", "banned", `ALTER TABLE users ADD COLUMN banned INTEGER NOT NULL DEFAULT 0`},
	{"unconfirmed_texts", "author_chat_id", `ALTER TABLE unconfirmed_texts ADD COLUMN author_chat_id INTEGER NOT NULL DEFAULT 0`},
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: create schema: %w", err)
		}
	}
	for _, m := range columnMigrations {
		ok, err := s.hasColumn(ctx, m.table, m.column)
		if err != nil {
			return fmt.Errorf("storage: inspect %s: %w", m.table, err)
		}
		if ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("storage: add %s.%s: %w", m.table, m.column, err)
		}
		s.log.Info("storage column added", logx.String("table", m.table), logx.String("column", m.column))
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
