// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package service provides the business logic layer: membership lifecycle,
// event participation, messaging, and audit logging.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/store"
)

// AuditService records domain events in the audit log.
type AuditService struct {
	queries *store.Queries
	logger  *slog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(db *sql.DB, logger *slog.Logger) *AuditService {
	return &AuditService{
		queries: store.New(db),
		logger:  logger,
	}
}

// LogEvent creates a new audit log entry. userID may be empty when no user
// context applies.
func (s *AuditService) LogEvent(ctx context.Context, level, category, message, userID, ipAddress string, metadata map[string]any) error {
	metadataJSON := "{}"
	if metadata != nil {
		if jsonBytes, err := json.Marshal(metadata); err == nil {
			metadataJSON = string(jsonBytes)
		}
	}

	_, err := s.queries.CreateAuditEvent(ctx, store.CreateAuditEventParams{
		Level:     level,
		Category:  category,
		Message:   message,
		UserID:    userID,
		IPAddress: ipAddress,
		Metadata:  metadataJSON,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to write audit entry", "error", err)
		return err
	}

	return nil
}

// LogAuth logs an authentication-related event.
func (s *AuditService) LogAuth(ctx context.Context, level, message, userID, ipAddress string, metadata map[string]any) error {
	return s.LogEvent(ctx, level, model.AuditCategoryAuth, message, userID, ipAddress, metadata)
}

// LogMembership logs a membership-related event.
func (s *AuditService) LogMembership(ctx context.Context, level, message, userID, ipAddress string, metadata map[string]any) error {
	return s.LogEvent(ctx, level, model.AuditCategoryMembership, message, userID, ipAddress, metadata)
}

// LogEventBoard logs a board-event-related entry.
func (s *AuditService) LogEventBoard(ctx context.Context, level, message, userID, ipAddress string, metadata map[string]any) error {
	return s.LogEvent(ctx, level, model.AuditCategoryEvent, message, userID, ipAddress, metadata)
}

// LogMessage logs a messaging-related event.
func (s *AuditService) LogMessage(ctx context.Context, level, message, userID, ipAddress string, metadata map[string]any) error {
	return s.LogEvent(ctx, level, model.AuditCategoryMessage, message, userID, ipAddress, metadata)
}

// LogSystem logs a system-related event.
func (s *AuditService) LogSystem(ctx context.Context, level, message, userID, ipAddress string, metadata map[string]any) error {
	return s.LogEvent(ctx, level, model.AuditCategorySystem, message, userID, ipAddress, metadata)
}

// DeleteOldEvents removes audit entries older than the specified duration.
func (s *AuditService) DeleteOldEvents(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.queries.DeleteOldAuditEvents(ctx, cutoff)
}
