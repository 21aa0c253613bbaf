// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/store"
)

// Messaging errors.
var (
	ErrEmptyMessage    = errors.New("message subject and content are required")
	ErrMessageNotFound = errors.New("message not found")
)

// MessageService handles the in-app message center. Subjects are stripped
// to plain text; bodies keep basic user-generated markup.
type MessageService struct {
	queries *store.Queries
	strict  *bluemonday.Policy
	ugc     *bluemonday.Policy
	logger  *slog.Logger
}

// NewMessageService creates a new MessageService.
func NewMessageService(db *sql.DB, logger *slog.Logger) *MessageService {
	return &MessageService{
		queries: store.New(db),
		strict:  bluemonday.StrictPolicy(),
		ugc:     bluemonday.UGCPolicy(),
		logger:  logger,
	}
}

// Send sanitizes and stores a message, returning its id.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID, subject, content, messageType string, related sql.NullInt64) (int64, error) {
	subject = strings.TrimSpace(s.strict.Sanitize(subject))
	content = strings.TrimSpace(s.ugc.Sanitize(content))
	if subject == "" || content == "" {
		return 0, ErrEmptyMessage
	}

	id, err := s.queries.CreateMessage(ctx, store.CreateMessageParams{
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Subject:         subject,
		Content:         content,
		MessageType:     messageType,
		RelatedEntityID: related,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("creating message: %w", err)
	}
	return id, nil
}

// Inbox returns messages received by a user, newest first.
func (s *MessageService) Inbox(ctx context.Context, userID string) ([]model.Message, error) {
	return s.queries.ListInbox(ctx, userID)
}

// Sent returns messages sent by a user, newest first.
func (s *MessageService) Sent(ctx context.Context, userID string) ([]model.Message, error) {
	return s.queries.ListSent(ctx, userID)
}

// Get returns one message, but only to its sender or receiver.
func (s *MessageService) Get(ctx context.Context, id int64, userID string) (model.Message, error) {
	m, err := s.queries.GetMessageByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return model.Message{}, err
	}
	if m.SenderID != userID && m.ReceiverID != userID {
		return model.Message{}, ErrMessageNotFound
	}
	return m, nil
}

// MarkRead flags a received message as read.
func (s *MessageService) MarkRead(ctx context.Context, id int64, receiverID string) error {
	return s.queries.MarkMessageRead(ctx, id, receiverID)
}

// UnreadCount returns the number of unread messages for a user.
func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.queries.CountUnread(ctx, userID)
}
