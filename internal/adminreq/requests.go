// Package adminreq moderates admin promotion: the first claimant becomes admin
// outright, later claimants need approval from an existing admin.
package adminreq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"castbot/internal/storage"
)

// ErrAlreadyResolved reports a request that another admin resolved first.
var ErrAlreadyResolved = errors.New("adminreq: request already resolved")

type Request struct {
	ID              int64
	CandidateChatID int64
	Text            string
	Confirmations   []Confirmation
}

// Confirmation is the prompt one admin received for a request.
type Confirmation struct {
	AdminChatID int64
	MessageID   int
}

// Requests is the admin_requests and admin_request_confirmations tables.
type Requests struct {
	store *storage.Store
}

func NewRequests(store *storage.Store) *Requests { return &Requests{store: store} }

// Create inserts a request unless the candidate already has one pending.
// existing is the pending request id in that case.
func (r *Requests) Create(ctx context.Context, candidate int64, text string) (id int64, existing bool, err error) {
	err = r.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		err := c.QueryRow(`SELECT id FROM admin_requests WHERE candidate_chat_id = ? ORDER BY id LIMIT 1`, candidate).Scan(&id)
		switch {
		case err == nil:
			existing = true
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		res, err := c.Exec(`INSERT INTO admin_requests (candidate_chat_id, request_text) VALUES (?, ?)`, candidate, text)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("adminreq: create for %d: %w", candidate, err)
	}
	return id, existing, nil
}

// AddConfirmation records the prompt sent to one admin. It is a no-op when
// the request was resolved in the meantime.
func (r *Requests) AddConfirmation(ctx context.Context, requestID int64, conf Confirmation) (bool, error) {
	var added bool
	err := r.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		res, err := c.Exec(`
			INSERT OR REPLACE INTO admin_request_confirmations (request_id, admin_chat_id, message_id)
			SELECT id, ?, ? FROM admin_requests WHERE id = ?`,
			conf.AdminChatID, conf.MessageID, requestID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		added = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("adminreq: add confirmation %d: %w", requestID, err)
	}
	return added, nil
}

// Get reads a request with its confirmations.
func (r *Requests) Get(ctx context.Context, id int64) (Request, error) {
	var req Request
	err := r.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		err := c.QueryRow(`SELECT id, candidate_chat_id, request_text FROM admin_requests WHERE id = ?`, id).
			Scan(&req.ID, &req.CandidateChatID, &req.Text)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadyResolved
		}
		if err != nil {
			return err
		}
		rows, err := c.Query(`
			SELECT admin_chat_id, message_id FROM admin_request_confirmations
			WHERE request_id = ? ORDER BY admin_chat_id`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var cf Confirmation
			if err := rows.Scan(&cf.AdminChatID, &cf.MessageID); err != nil {
				return err
			}
			req.Confirmations = append(req.Confirmations, cf)
		}
		return rows.Err()
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			return Request{}, err
		}
		return Request{}, fmt.Errorf("adminreq: get %d: %w", id, err)
	}
	return req, nil
}

// Take reads and deletes a request and its confirmations in one transaction.
// Callers that need further writes in the same unit pass a cursor context.
func (r *Requests) Take(ctx context.Context, id int64) (Request, error) {
	var req Request
	err := r.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		var err error
		if req, err = r.Get(c.Context(), id); err != nil {
			return err
		}
		if _, err := c.Exec(`DELETE FROM admin_request_confirmations WHERE request_id = ?`, id); err != nil {
			return err
		}
		_, err = c.Exec(`DELETE FROM admin_requests WHERE id = ?`, id)
		return err
	})
	return req, err
}

// Count returns the number of pending requests and confirmation rows.
func (r *Requests) Count(ctx context.Context) (requests, confirmations int, err error) {
	err = r.store.WithCursor(ctx, false, func(c *storage.Cursor) error {
		if err := c.QueryRow(`SELECT COUNT(*) FROM admin_requests`).Scan(&requests); err != nil {
			return err
		}
		return c.QueryRow(`SELECT COUNT(*) FROM admin_request_confirmations`).Scan(&confirmations)
	})
	return requests, confirmations, err
}
