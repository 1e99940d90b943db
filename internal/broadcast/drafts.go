// Package broadcast implements the confirm-before-send workflow: an admin's
// text is kept as a draft until they accept or cancel the prompt.
package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"castbot/internal/storage"
)

// ErrAlreadyProcessed reports a draft that was accepted or cancelled already.
var ErrAlreadyProcessed = errors.New("broadcast: draft already processed")

type Draft struct {
	ID                    int64
	Text                  string
	ConfirmationMessageID int // 0 until the prompt is sent
	AuthorChatID          int64
}

// Drafts is the unconfirmed_texts table.
type Drafts struct {
	store *storage.Store
}

func NewDrafts(store *storage.Store) *Drafts { return &Drafts{store: store} }

func (d *Drafts) Save(ctx context.Context, author int64, text string) (int64, error) {
	var id int64
	err := d.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		res, err := c.Exec(`INSERT INTO unconfirmed_texts (text, author_chat_id) VALUES (?, ?)`, text, author)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("broadcast: save draft: %w", err)
	}
	return id, nil
}

// AttachPrompt records the confirmation prompt of a draft.
func (d *Drafts) AttachPrompt(ctx context.Context, id int64, messageID int) error {
	err := d.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		_, err := c.Exec(`UPDATE unconfirmed_texts SET confirmation_message_id = ? WHERE id = ?`, messageID, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("broadcast: attach prompt %d: %w", id, err)
	}
	return nil
}

// Load returns ErrAlreadyProcessed when no draft has this id.
func (d *Drafts) Load(ctx context.Context, id int64) (Draft, error) {
	var dr Draft
	err := d.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		var prompt sql.NullInt64
		err := c.QueryRow(`
			SELECT id, text, confirmation_message_id, COALESCE(author_chat_id, 0)
			FROM unconfirmed_texts WHERE id = ?`, id).
			Scan(&dr.ID, &dr.Text, &prompt, &dr.AuthorChatID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadyProcessed
		}
		dr.ConfirmationMessageID = int(prompt.Int64)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return Draft{}, err
		}
		return Draft{}, fmt.Errorf("broadcast: load draft %d: %w", id, err)
	}
	return dr, nil
}

func (d *Drafts) Delete(ctx context.Context, id int64) error {
	err := d.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		_, err := c.Exec(`DELETE FROM unconfirmed_texts WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("broadcast: delete draft %d: %w", id, err)
	}
	return nil
}

// Take loads and deletes a draft in one transaction.
func (d *Drafts) Take(ctx context.Context, id int64) (Draft, error) {
	var dr Draft
	err := d.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		var err error
		if dr, err = d.Load(c.Context(), id); err != nil {
			return err
		}
		return d.Delete(c.Context(), id)
	})
	return dr, err
}

func (d *Drafts) Count(ctx context.Context) (int, error) {
	var n int
	err := d.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		return c.QueryRow(`SELECT COUNT(*) FROM unconfirmed_texts`).Scan(&n)
	})
	return n, err
}
