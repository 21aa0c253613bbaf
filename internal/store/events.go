// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"

	"github.com/open-assoc/portal-go/internal/model"
)

const eventColumns = `id, creator_id, title, description, location, event_time,
	max_participants, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.CreatorID, &e.Title, &e.Description, &e.Location, &e.EventTime,
		&e.MaxParticipants, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

// CreateEventParams holds the columns for a new board event.
type CreateEventParams struct {
	CreatorID       string
	Title           string
	Description     string
	Location        string
	EventTime       time.Time
	MaxParticipants int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateEvent inserts a new event and returns its id.
func (q *Queries) CreateEvent(ctx context.Context, arg CreateEventParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO events (creator_id, title, description, location, event_time, max_participants, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.CreatorID, arg.Title, arg.Description, arg.Location, arg.EventTime,
		arg.MaxParticipants, arg.CreatedAt, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateEventParams holds the editable columns of an event.
type UpdateEventParams struct {
	Title           string
	Description     string
	Location        string
	EventTime       time.Time
	MaxParticipants int64
	UpdatedAt       time.Time
	ID              int64
}

// UpdateEvent applies an edit by the creator or an administrator.
func (q *Queries) UpdateEvent(ctx context.Context, arg UpdateEventParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE events
		SET title = ?, description = ?, location = ?, event_time = ?, max_participants = ?, updated_at = ?
		WHERE id = ?`,
		arg.Title, arg.Description, arg.Location, arg.EventTime, arg.MaxParticipants,
		arg.UpdatedAt, arg.ID)
	return err
}

// DeleteEvent removes an event; participants cascade.
func (q *Queries) DeleteEvent(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return err
}

// GetEventByID fetches a single event.
func (q *Queries) GetEventByID(ctx context.Context, id int64) (model.Event, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// ListEvents returns all events ordered by scheduled time, soonest first.
func (q *Queries) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY event_time ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountActiveParticipants counts pending and approved records for an event;
// this is the number compared against capacity.
func (q *Queries) CountActiveParticipants(ctx context.Context, eventID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event_participants
		WHERE event_id = ? AND status IN ('pending', 'approved')`, eventID).Scan(&n)
	return n, err
}

// CreateParticipantParams identifies a new join request. MaxParticipants 0
// means unlimited capacity.
type CreateParticipantParams struct {
	EventID         int64
	UserID          string
	MaxParticipants int64
	CreatedAt       time.Time
}

// CreateParticipant inserts a pending join record. The UNIQUE(event_id,
// user_id) constraint plus ON CONFLICT DO NOTHING makes the insert
// insert-if-absent, and the capacity check lives inside the same statement
// so two requests racing on the last slot cannot both get in. The return
// value reports whether a row was created.
func (q *Queries) CreateParticipant(ctx context.Context, arg CreateParticipantParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO event_participants (event_id, user_id, status, created_at)
		SELECT ?, ?, 'pending', ?
		WHERE ? = 0 OR (
			SELECT COUNT(*) FROM event_participants
			WHERE event_id = ? AND status IN ('pending', 'approved')) < ?
		ON CONFLICT(event_id, user_id) DO NOTHING`,
		arg.EventID, arg.UserID, arg.CreatedAt,
		arg.MaxParticipants, arg.EventID, arg.MaxParticipants)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetParticipant fetches the join record for one (event, user) pair.
func (q *Queries) GetParticipant(ctx context.Context, eventID int64, userID string) (model.Participant, error) {
	var p model.Participant
	err := q.db.QueryRowContext(ctx, `
		SELECT id, event_id, user_id, status, created_at
		FROM event_participants WHERE event_id = ? AND user_id = ?`,
		eventID, userID).Scan(&p.ID, &p.EventID, &p.UserID, &p.Status, &p.CreatedAt)
	return p, err
}

// ListParticipantsForUser returns all join records of one user.
func (q *Queries) ListParticipantsForUser(ctx context.Context, userID string) ([]model.Participant, error) {
	return q.listParticipants(ctx,
		`SELECT id, event_id, user_id, status, created_at
		 FROM event_participants WHERE user_id = ?`, userID)
}

// ListParticipantsForEvent returns all join records of one event.
func (q *Queries) ListParticipantsForEvent(ctx context.Context, eventID int64) ([]model.Participant, error) {
	return q.listParticipants(ctx,
		`SELECT id, event_id, user_id, status, created_at
		 FROM event_participants WHERE event_id = ? ORDER BY created_at ASC`, eventID)
}

func (q *Queries) listParticipants(ctx context.Context, query string, arg any) ([]model.Participant, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.EventID, &p.UserID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// DecideParticipantParams carries a moderation decision.
type DecideParticipantParams struct {
	Status  string
	EventID int64
	UserID  string
}

// DecideParticipant transitions a pending record to a terminal status. The
// WHERE clause is the explicit pending-only transition guard: deciding an
// already-decided record affects zero rows and the caller is told so.
func (q *Queries) DecideParticipant(ctx context.Context, arg DecideParticipantParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE event_participants SET status = ?
		WHERE event_id = ? AND user_id = ? AND status = 'pending'`,
		arg.Status, arg.EventID, arg.UserID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
