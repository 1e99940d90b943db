// Package users is the registry of chat participants and their admin and
// ban flags.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"castbot/internal/storage"
)

type User struct {
	ChatID    int64
	FirstName string
	LastName  string
	Username  string
	IsAdmin   bool
	Banned    bool
	JoinedAt  time.Time
}

// DisplayName joins the known name parts, falling back to <#chat_id>.
func (u User) DisplayName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{u.FirstName, u.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if u.Username != "" {
		parts = append(parts, "@"+u.Username)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("<#%d>", u.ChatID)
	}
	return strings.Join(parts, " ")
}

// Profile is the display data refreshed on every /start.
type Profile struct {
	ChatID    int64
	FirstName string
	LastName  string
	Username  string
}

type Registry struct {
	store             *storage.Store
	requireActivation atomic.Bool
}

func New(store *storage.Store) *Registry {
	return &Registry{store: store}
}

// SetRequireActivation makes newly registered users start banned until an
// admin activates them.
func (r *Registry) SetRequireActivation(v bool) { r.requireActivation.Store(v) }

// Upsert inserts an unknown chat or refreshes display fields of a known one.
// Admin and ban flags and the join time of known users are left untouched.
func (r *Registry) Upsert(ctx context.Context, p Profile) (created bool, err error) {
	err = r.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		var one int
		switch err := c.QueryRow(`SELECT 1 FROM users WHERE chat_id = ?`, p.ChatID).Scan(&one); {
		case errors.Is(err, sql.ErrNoRows):
			created = true
		case err != nil:
			return err
		}
		_, err := c.Exec(`
			INSERT INTO users (chat_id, first_name, last_name, username, start_time, is_admin, banned)
			VALUES (?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT(chat_id) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				username = excluded.username`,
			p.ChatID, nullString(p.FirstName), nullString(p.LastName), nullString(p.Username),
			storage.FormatTime(c.Now()), boolInt(r.requireActivation.Load()),
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("users: upsert %d: %w", p.ChatID, err)
	}
	return created, nil
}

// ListActiveChatIDs returns every non-banned chat in join order.
func (r *Registry) ListActiveChatIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.store.WithCursor(ctx, false, func(c *storage.Cursor) (err error) {
		ids, err = c.QueryInt64s(`SELECT chat_id FROM users WHERE banned = 0 ORDER BY start_time, chat_id`)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("users: list active: %w", err)
	}
	return ids, nil
}

// ListAdminChatIDs returns non-banned admins in join order.
func (r *Registry) ListAdminChatIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.store.WithCursor(ctx, false, func(c *storage.Cursor) (err error) {
		ids, err = c.QueryInt64s(`
			SELECT chat_id FROM users
			WHERE COALESCE(is_admin, 0) != 0 AND banned = 0
			ORDER BY start_time, chat_id`)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("users: list admins: %w", err)
	}
	return ids, nil
}

// IsAdmin is false for unknown and banned chats.
func (r *Registry) IsAdmin(ctx context.Context, chatID int64) (bool, error) {
	u, ok, err := r.Get(ctx, chatID)
	if err != nil || !ok {
		return false, err
	}
	return u.IsAdmin && !u.Banned, nil
}

// IsBanned is true for unknown chats.
func (r *Registry) IsBanned(ctx context.Context, chatID int64) (bool, error) {
	u, ok, err := r.Get(ctx, chatID)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, nil
	}
	return u.Banned, nil
}

// SetAdmin writes the admin flag. Banned users are never promoted;
// changed is false when no row matched.
func (r *Registry) SetAdmin(ctx context.Context, chatID int64, admin bool) (changed bool, err error) {
	err = r.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		res, err := c.Exec(`UPDATE users SET is_admin = ? WHERE chat_id = ? AND banned = 0`, boolInt(admin), chatID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("users: set admin %d: %w", chatID, err)
	}
	return changed, nil
}

// SetBanned writes the ban flag; changed is false for unknown chats.
func (r *Registry) SetBanned(ctx context.Context, chatID int64, banned bool) (changed bool, err error) {
	err = r.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		res, err := c.Exec(`UPDATE users SET banned = ? WHERE chat_id = ?`, boolInt(banned), chatID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("users: set banned %d: %w", chatID, err)
	}
	return changed, nil
}

// ListAll returns users in join order.
func (r *Registry) ListAll(ctx context.Context, includeBanned bool) ([]User, error) {
	q := userColumns + ` FROM users`
	if !includeBanned {
		q += ` WHERE banned = 0`
	}
	return r.list(ctx, q+` ORDER BY start_time, chat_id`)
}

func (r *Registry) ListBanned(ctx context.Context) ([]User, error) {
	return r.list(ctx, userColumns+` FROM users WHERE banned != 0 ORDER BY start_time, chat_id`)
}

func (r *Registry) Get(ctx context.Context, chatID int64) (User, bool, error) {
	var (
		u  User
		ok bool
	)
	err := r.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		var err error
		u, err = scanUser(c.QueryRow(userColumns+` FROM users WHERE chat_id = ?`, chatID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		ok = err == nil
		return err
	})
	if err != nil {
		return User{}, false, fmt.Errorf("users: get %d: %w", chatID, err)
	}
	return u, ok, nil
}

func (r *Registry) list(ctx context.Context, query string) ([]User, error) {
	var out []User
	err := r.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		rows, err := c.Query(query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	return out, nil
}

const userColumns = `SELECT chat_id, first_name, last_name, username, start_time, COALESCE(is_admin, 0), banned`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (User, error) {
	var (
		u                  User
		first, last, uname sql.NullString
		joined             string
		isAdmin, banned    int
	)
	if err := s.Scan(&u.ChatID, &first, &last, &uname, &joined, &isAdmin, &banned); err != nil {
		return User{}, err
	}
	u.FirstName = first.String
	u.LastName = last.String
	u.Username = uname.String
	u.IsAdmin = isAdmin != 0
	u.Banned = banned != 0
	if t, err := storage.ParseTime(joined); err == nil {
		u.JoinedAt = t
	}
	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
