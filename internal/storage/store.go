package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "castbot/pkg/logx"
)

var ErrClosed = errors.New("storage: closed")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

type Option func(*Store)

func WithLogger(log logx.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithNowFunc overrides the clock used for cursor timestamps.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	log    logx.Logger
	now    func() time.Time
	closed bool
}

func Open(cfg Config, opts ...Option) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// The mutex already serializes access; one connection keeps sqlite
	// from ever seeing two writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	ctx := context.Background()
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			s.log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("storage opened", logx.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

type cursorKey struct{}

// Cursor is a transaction scoped to one WithCursor call.
// It must not be retained after the callback returns.
type Cursor struct {
	store *Store
	tx    *sql.Tx
	ctx   context.Context
	now   time.Time
}

// WithCursor runs fn inside a transaction while holding the store lock.
//
// With autocommit the transaction commits when fn returns nil; otherwise, and
// whenever fn fails or panics, it is rolled back. The lock is released on every
// exit path.
//
// If ctx was obtained from Cursor.Context of this store, fn joins that cursor
// and the outermost call decides commit or rollback.
func (s *Store) WithCursor(ctx context.Context, autocommit bool, fn func(c *Cursor) error) (err error) {
	if c, ok := ctx.Value(cursorKey{}).(*Cursor); ok && c.store == s {
		return fn(c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	c := &Cursor{store: s, tx: tx, now: s.Now()}
	c.ctx = context.WithValue(ctx, cursorKey{}, c)

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	if err := fn(c); err != nil {
		return err
	}
	done = true
	if !autocommit {
		_ = tx.Rollback()
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// Context carries the cursor; pass it to nested store users to join this transaction.
func (c *Cursor) Context() context.Context { return c.ctx }

// Now is the store clock captured when the cursor was opened.
func (c *Cursor) Now() time.Time { return c.now }

func (c *Cursor) Exec(query string, args ...any) (sql.Result, error) {
	return c.tx.ExecContext(c.ctx, query, args...)
}

func (c *Cursor) Query(query string, args ...any) (*sql.Rows, error) {
	return c.tx.QueryContext(c.ctx, query, args...)
}

func (c *Cursor) QueryRow(query string, args ...any) *sql.Row {
	return c.tx.QueryRowContext(c.ctx, query, args...)
}

// ExecMany runs one prepared statement once per argument set.
func (c *Cursor) ExecMany(query string, argSets [][]any) error {
	if len(argSets) == 0 {
		return nil
	}
	stmt, err := c.tx.PrepareContext(c.ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, args := range argSets {
		if _, err := stmt.ExecContext(c.ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// QueryInt64s collects the first column of every row.
func (c *Cursor) QueryInt64s(query string, args ...any) ([]int64, error) {
	rows, err := c.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
