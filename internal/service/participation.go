// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/store"
)

// Participation errors.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrEventFull     = errors.New("event has reached its participant limit")
	ErrAlreadyJoined = errors.New("a join request for this event already exists")
	ErrNotPending    = errors.New("join request has already been decided")
	ErrNotModerator  = errors.New("only the event creator or an admin may moderate")
)

// Message subjects for the application workflow.
const (
	subjectJoinRequest = "活动申请"
	subjectJoinResult  = "活动申请结果"
	decisionApproved   = "通过"
	decisionRejected   = "拒绝"
)

// ParticipationService implements the event join and moderation workflow.
type ParticipationService struct {
	queries  *store.Queries
	messages *MessageService
	audit    *AuditService
	logger   *slog.Logger
}

// NewParticipationService creates a new ParticipationService.
func NewParticipationService(db *sql.DB, messages *MessageService, audit *AuditService, logger *slog.Logger) *ParticipationService {
	return &ParticipationService{
		queries:  store.New(db),
		messages: messages,
		audit:    audit,
		logger:   logger,
	}
}

// RequestJoin records a pending join request for (eventID, userID).
//
// The insert is insert-if-absent with the capacity check folded into the
// same statement: a concurrent or repeated request cannot create a second
// record or overshoot the participant limit. The creator notification is
// best-effort; if it fails the join request still stands.
func (s *ParticipationService) RequestJoin(ctx context.Context, eventID int64, userID string) error {
	event, err := s.queries.GetEventByID(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("loading event: %w", err)
	}

	inserted, err := s.queries.CreateParticipant(ctx, store.CreateParticipantParams{
		EventID:         eventID,
		UserID:          userID,
		MaxParticipants: event.MaxParticipants,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("creating join request: %w", err)
	}
	if !inserted {
		// The statement refuses for two reasons; a present record means a
		// duplicate, its absence means the event is full.
		if _, err := s.queries.GetParticipant(ctx, eventID, userID); err == nil {
			return ErrAlreadyJoined
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking join request: %w", err)
		}
		return ErrEventFull
	}

	s.notifyCreator(ctx, event, userID)

	_ = s.audit.LogEventBoard(ctx, model.AuditLevelInfo, "event join requested", userID, "",
		map[string]any{"event_id": eventID})

	return nil
}

// notifyCreator sends the application message to the event creator. Failure
// is logged and swallowed: the join request has already been committed.
func (s *ParticipationService) notifyCreator(ctx context.Context, event model.Event, userID string) {
	name := userID
	if acct, err := s.queries.GetAccountByID(ctx, userID); err == nil && acct.FullName != "" {
		name = acct.FullName
	}

	subject := fmt.Sprintf("%s: %s", subjectJoinRequest, event.Title)
	content := fmt.Sprintf("%s 申请参加活动「%s」，请前往消息中心处理。", name, event.Title)
	_, err := s.messages.Send(ctx, userID, event.CreatorID, subject, content,
		model.MessageTypeEventApplication,
		sql.NullInt64{Int64: event.ID, Valid: true})
	if err != nil {
		s.logger.Warn("join notification failed",
			"event_id", event.ID, "user_id", userID, "error", err)
	}
}

// Moderate applies an approve/reject decision to a pending join request.
//
// The pending check lives in the update statement itself, so two moderators
// racing on the same request cannot both win: the loser's update touches
// zero rows, returns ErrNotPending, and sends no reply.
func (s *ParticipationService) Moderate(ctx context.Context, eventID int64, requesterID string, approve bool, moderator *model.Profile) error {
	event, err := s.queries.GetEventByID(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("loading event: %w", err)
	}

	if moderator.ID != event.CreatorID && !moderator.IsAdmin() {
		return ErrNotModerator
	}

	status := model.ParticipationRejected
	decision := decisionRejected
	if approve {
		status = model.ParticipationApproved
		decision = decisionApproved
	}

	decided, err := s.queries.DecideParticipant(ctx, store.DecideParticipantParams{
		Status:  status,
		EventID: eventID,
		UserID:  requesterID,
	})
	if err != nil {
		return fmt.Errorf("deciding join request: %w", err)
	}
	if !decided {
		return ErrNotPending
	}

	subject := fmt.Sprintf("%s: %s", subjectJoinResult, decision)
	content := fmt.Sprintf("您对活动「%s」的参加申请已被%s。", event.Title, decision)
	_, err = s.messages.Send(ctx, moderator.ID, requesterID, subject, content,
		model.MessageTypeText,
		sql.NullInt64{Int64: event.ID, Valid: true})
	if err != nil {
		s.logger.Warn("decision reply failed",
			"event_id", eventID, "requester_id", requesterID, "error", err)
	}

	_ = s.audit.LogEventBoard(ctx, model.AuditLevelInfo, "event join request decided", moderator.ID, "",
		map[string]any{"event_id": eventID, "requester_id": requesterID, "status": status})

	return nil
}

// Participation returns the join record for (eventID, userID), or nil when
// the user has not requested to join.
func (s *ParticipationService) Participation(ctx context.Context, eventID int64, userID string) (*model.Participant, error) {
	p, err := s.queries.GetParticipant(ctx, eventID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
