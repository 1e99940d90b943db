// Package autodelete keeps the durable queue of messages that expire and the
// purge job that removes them from chats.
package autodelete

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"castbot/internal/storage"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const (
	DefaultTTL       = 3 * time.Hour
	DefaultBatchSize = 25
)

type Scheduler struct {
	store *storage.Store
	msg   transport.Messenger
	log   logx.Logger

	ttl   atomic.Int64 // nanoseconds
	batch atomic.Int64
}

func New(store *storage.Store, msg transport.Messenger, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{store: store, msg: msg, log: log}
	s.ttl.Store(int64(DefaultTTL))
	s.batch.Store(DefaultBatchSize)
	return s
}

func (s *Scheduler) SetDefaultTTL(d time.Duration) {
	if d > 0 {
		s.ttl.Store(int64(d))
	}
}

func (s *Scheduler) DefaultTTL() time.Duration { return time.Duration(s.ttl.Load()) }

func (s *Scheduler) SetBatchSize(n int) {
	if n > 0 {
		s.batch.Store(int64(n))
	}
}

// Schedule expires ref after the default TTL.
func (s *Scheduler) Schedule(ctx context.Context, ref transport.MessageRef) error {
	return s.ScheduleTTL(ctx, ref, 0)
}

// ScheduleTTL expires ref after ttl, or the default TTL when ttl <= 0.
// Scheduling the same message again replaces its due time.
func (s *Scheduler) ScheduleTTL(ctx context.Context, ref transport.MessageRef, ttl time.Duration) error {
	return s.ScheduleByIDs(ctx, ref.ChatID, ref.MessageID, ttl)
}

// ScheduleByIDs is ScheduleTTL for callers that only hold identifiers,
// for example after editing a message in place.
func (s *Scheduler) ScheduleByIDs(ctx context.Context, chatID int64, messageID int, ttl time.Duration) error {
	if messageID == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = s.DefaultTTL()
	}
	err := s.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		_, err := c.Exec(`
			INSERT INTO msgs_to_delete (chat_id, message_id, delete_at) VALUES (?, ?, ?)
			ON CONFLICT(chat_id, message_id) DO UPDATE SET delete_at = excluded.delete_at`,
			chatID, messageID, storage.FormatTime(c.Now().Add(ttl)))
		return err
	})
	if err != nil {
		return fmt.Errorf("autodelete: schedule %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

// DrainDue returns up to limit due entries in insertion order without removing them.
func (s *Scheduler) DrainDue(ctx context.Context, limit int) ([]transport.MessageRef, error) {
	var out []transport.MessageRef
	err := s.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		rows, err := c.Query(`
			SELECT chat_id, message_id FROM msgs_to_delete
			WHERE delete_at <= ?
			ORDER BY rowid
			LIMIT ?`, storage.FormatTime(c.Now()), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r transport.MessageRef
			if err := rows.Scan(&r.ChatID, &r.MessageID); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("autodelete: drain: %w", err)
	}
	return out, nil
}

// Forget removes entries by composite key.
func (s *Scheduler) Forget(ctx context.Context, refs []transport.MessageRef) error {
	if len(refs) == 0 {
		return nil
	}
	args := make([][]any, 0, len(refs))
	for _, r := range refs {
		args = append(args, []any{r.ChatID, r.MessageID})
	}
	err := s.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		return c.ExecMany(`DELETE FROM msgs_to_delete WHERE chat_id = ? AND message_id = ?`, args)
	})
	if err != nil {
		return fmt.Errorf("autodelete: forget: %w", err)
	}
	return nil
}

// RescheduleAllToPast makes every pending entry due now.
func (s *Scheduler) RescheduleAllToPast(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		res, err := c.Exec(`UPDATE msgs_to_delete SET delete_at = ?`, storage.FormatTime(c.Now().Add(-time.Minute)))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("autodelete: reschedule: %w", err)
	}
	return n, nil
}

// Pending counts scheduled entries, due or not.
func (s *Scheduler) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		return c.QueryRow(`SELECT COUNT(*) FROM msgs_to_delete`).Scan(&n)
	})
	return n, err
}

// Purge deletes one batch of due messages and forgets the batch.
//
// "Not found" and "can't be deleted" failures count as done. Any other failure
// aborts before the forget step so the whole batch is retried on the next run.
func (s *Scheduler) Purge(ctx context.Context) (int, error) {
	refs, err := s.DrainDue(ctx, int(s.batch.Load()))
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	deleted := 0
	for _, r := range refs {
		if err := s.msg.DeleteMessage(ctx, r); err != nil {
			if transport.IsGoneOrUndeletable(err) {
				s.log.Debug("message already gone", logx.Int64("chat_id", r.ChatID), logx.Int("message_id", r.MessageID), logx.Err(err))
				continue
			}
			return deleted, fmt.Errorf("autodelete: delete %d/%d: %w", r.ChatID, r.MessageID, err)
		}
		deleted++
	}

	if err := s.Forget(ctx, refs); err != nil {
		return deleted, err
	}
	s.log.Debug("purge batch done", logx.Int("batch", len(refs)), logx.Int("deleted", deleted))
	return deleted, nil
}
