// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/open-assoc/portal-go/internal/model"
)

const messageColumns = `id, sender_id, receiver_id, subject, content, message_type,
	related_entity_id, is_read, created_at`

func scanMessage(row interface{ Scan(...any) error }) (model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID, &m.SenderID, &m.ReceiverID, &m.Subject, &m.Content, &m.MessageType,
		&m.RelatedEntityID, &m.IsRead, &m.CreatedAt,
	)
	return m, err
}

// CreateMessageParams holds the columns of a new message.
type CreateMessageParams struct {
	SenderID        string
	ReceiverID      string
	Subject         string
	Content         string
	MessageType     string
	RelatedEntityID sql.NullInt64
	CreatedAt       time.Time
}

// CreateMessage inserts a message and returns its id.
func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, subject, content, message_type, related_entity_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.SenderID, arg.ReceiverID, arg.Subject, arg.Content, arg.MessageType,
		arg.RelatedEntityID, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetMessageByID fetches a single message.
func (q *Queries) GetMessageByID(ctx context.Context, id int64) (model.Message, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// ListInbox returns messages received by a user, newest first.
func (q *Queries) ListInbox(ctx context.Context, userID string) ([]model.Message, error) {
	return q.listMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE receiver_id = ? ORDER BY created_at DESC`,
		userID)
}

// ListSent returns messages sent by a user, newest first.
func (q *Queries) ListSent(ctx context.Context, userID string) ([]model.Message, error) {
	return q.listMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE sender_id = ? ORDER BY created_at DESC`,
		userID)
}

func (q *Queries) listMessages(ctx context.Context, query string, arg any) ([]model.Message, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkMessageRead sets the read flag of a received message.
func (q *Queries) MarkMessageRead(ctx context.Context, id int64, receiverID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE id = ? AND receiver_id = ?`, id, receiverID)
	return err
}

// CountUnread returns the number of unread messages for a user.
func (q *Queries) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND is_read = 0`, userID).Scan(&n)
	return n, err
}
