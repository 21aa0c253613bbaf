// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"

	"github.com/open-assoc/portal-go/internal/model"
)

// CreateApplicationParams holds the columns of a new membership application.
type CreateApplicationParams struct {
	UserID    string
	FullName  string
	Content   string
	CreatedAt time.Time
}

// CreateApplication inserts a pending membership application.
func (q *Queries) CreateApplication(ctx context.Context, arg CreateApplicationParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO applications (user_id, full_name, content, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)`,
		arg.UserID, arg.FullName, arg.Content, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetApplicationByID fetches a single application.
func (q *Queries) GetApplicationByID(ctx context.Context, id int64) (model.Application, error) {
	var a model.Application
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, full_name, content, status, created_at
		FROM applications WHERE id = ?`, id).
		Scan(&a.ID, &a.UserID, &a.FullName, &a.Content, &a.Status, &a.CreatedAt)
	return a, err
}

// ListApplications returns all applications, newest first.
func (q *Queries) ListApplications(ctx context.Context) ([]model.Application, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, full_name, content, status, created_at
		FROM applications ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var apps []model.Application
	for rows.Next() {
		var a model.Application
		if err := rows.Scan(&a.ID, &a.UserID, &a.FullName, &a.Content, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// ListApplicationsForUser returns one user's applications, newest first.
func (q *Queries) ListApplicationsForUser(ctx context.Context, userID string) ([]model.Application, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, full_name, content, status, created_at
		FROM applications WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var apps []model.Application
	for rows.Next() {
		var a model.Application
		if err := rows.Scan(&a.ID, &a.UserID, &a.FullName, &a.Content, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// DecideApplicationParams carries an application decision.
type DecideApplicationParams struct {
	Status string
	ID     int64
}

// DecideApplication transitions a pending application to a terminal status.
// Re-deciding an already-decided application affects zero rows.
func (q *Queries) DecideApplication(ctx context.Context, arg DecideApplicationParams) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE applications SET status = ? WHERE id = ? AND status = 'pending'`,
		arg.Status, arg.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
