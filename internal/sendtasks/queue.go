// Package sendtasks is the durable outbox of messages waiting to be sent and
// the dispatcher that drains it.
package sendtasks

import (
	"context"
	"fmt"
	"strings"

	"castbot/internal/storage"
)

type Task struct {
	ID     int64
	ChatID int64
	Text   string
}

// Recipients lists the chats a broadcast fans out to.
type Recipients interface {
	ListActiveChatIDs(ctx context.Context) ([]int64, error)
}

type Queue struct {
	store      *storage.Store
	recipients Recipients
}

func NewQueue(store *storage.Store, recipients Recipients) *Queue {
	return &Queue{store: store, recipients: recipients}
}

// Enqueue adds one task per distinct chat id, in the order given.
func (q *Queue) Enqueue(ctx context.Context, chatIDs []int64, text string) (int, error) {
	seen := make(map[int64]struct{}, len(chatIDs))
	args := make([][]any, 0, len(chatIDs))
	for _, id := range chatIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		args = append(args, []any{id, text})
	}
	if len(args) == 0 {
		return 0, nil
	}
	err := q.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		return c.ExecMany(`INSERT INTO send_tasks (chat_id, text) VALUES (?, ?)`, args)
	})
	if err != nil {
		return 0, fmt.Errorf("sendtasks: enqueue: %w", err)
	}
	return len(args), nil
}

// EnqueueForAllActiveUsers fans text out to every non-banned user. The
// recipient list and the inserts share one transaction.
func (q *Queue) EnqueueForAllActiveUsers(ctx context.Context, text string) (int, error) {
	var n int
	err := q.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		ids, err := q.recipients.ListActiveChatIDs(c.Context())
		if err != nil {
			return err
		}
		n, err = q.Enqueue(c.Context(), ids, text)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Drain returns up to limit tasks, oldest first, without removing them.
func (q *Queue) Drain(ctx context.Context, limit int) ([]Task, error) {
	var out []Task
	err := q.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		rows, err := c.Query(`SELECT id, chat_id, text FROM send_tasks ORDER BY id LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t Task
			if err := rows.Scan(&t.ID, &t.ChatID, &t.Text); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("sendtasks: drain: %w", err)
	}
	return out, nil
}

func (q *Queue) Dismiss(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	err := q.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		_, err := c.Exec(`DELETE FROM send_tasks WHERE id IN (`+placeholders+`)`, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("sendtasks: dismiss: %w", err)
	}
	return nil
}

// DismissAll drops every pending task.
func (q *Queue) DismissAll(ctx context.Context) (int64, error) {
	var n int64
	err := q.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		res, err := c.Exec(`DELETE FROM send_tasks`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sendtasks: dismiss all: %w", err)
	}
	return n, nil
}

func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		return c.QueryRow(`SELECT COUNT(*) FROM send_tasks`).Scan(&n)
	})
	return n, err
}
