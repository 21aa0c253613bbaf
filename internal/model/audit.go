package model

import (
	"database/sql"
	"time"
)

// Audit event levels.
const (
	AuditLevelInfo    = "info"
	AuditLevelWarning = "warning"
	AuditLevelError   = "error"
)

// Audit event categories.
const (
	AuditCategoryAuth       = "auth"
	AuditCategoryMembership = "membership"
	AuditCategoryEvent      = "event"
	AuditCategoryMessage    = "message"
	AuditCategorySystem     = "system"
)

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	ID        int64
	Level     string
	Category  string
	Message   string
	UserID    sql.NullString
	IPAddress string
	Metadata  string // JSON string
	CreatedAt time.Time
}
