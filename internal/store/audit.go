package store

import (
	"context"
	"time"

	"github.com/open-assoc/portal-go/internal/model"
)

// CreateAuditEventParams holds the columns of a new audit log entry.
type CreateAuditEventParams struct {
	Level     string
	Category  string
	Message   string
	UserID    string // empty means no user context
	IPAddress string
	Metadata  string
	CreatedAt time.Time
}

// CreateAuditEvent inserts an audit log entry.
func (q *Queries) CreateAuditEvent(ctx context.Context, arg CreateAuditEventParams) (int64, error) {
	var userID any
	if arg.UserID != "" {
		userID = arg.UserID
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_events (level, category, message, user_id, ip_address, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.Level, arg.Category, arg.Message, userID, arg.IPAddress, arg.Metadata, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListRecentAuditEvents returns the newest audit entries up to limit.
func (q *Queries) ListRecentAuditEvents(ctx context.Context, limit int64) ([]model.AuditEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, level, category, message, user_id, ip_address, metadata, created_at
		FROM audit_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message, &e.UserID,
			&e.IPAddress, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteOldAuditEvents removes audit entries created before the cutoff.
func (q *Queries) DeleteOldAuditEvents(ctx context.Context, cutoff time.Time) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < ?`, cutoff)
	return err
}
