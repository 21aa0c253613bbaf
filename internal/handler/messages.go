// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/open-assoc/portal-go/internal/middleware"
	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/render"
	"github.com/open-assoc/portal-go/internal/service"
	"github.com/open-assoc/portal-go/internal/store"
)

const redirectMessages = "/member/messages"

// MessageHandler serves the in-app message center, including moderation of
// event applications from the inbox.
type MessageHandler struct {
	queries       *store.Queries
	messages      *service.MessageService
	participation *service.ParticipationService
	renderer      *render.Renderer
	logger        *slog.Logger
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(db *sql.DB, messages *service.MessageService,
	participation *service.ParticipationService, renderer *render.Renderer, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		queries:       store.New(db),
		messages:      messages,
		participation: participation,
		renderer:      renderer,
		logger:        logger,
	}
}

func (h *MessageHandler) render(w http.ResponseWriter, r *http.Request, name string, data render.TemplateData) {
	data.Profile = middleware.GetProfile(r)
	if userID := middleware.GetUserID(r); userID != "" {
		if n, err := h.messages.UnreadCount(r.Context(), userID); err == nil {
			data.UnreadCount = n
		}
	}
	if err := h.renderer.Render(w, r, name, data); err != nil {
		logAndInternalError(w, "rendering page", "template", name, "error", err)
	}
}

// List renders the inbox, or the sent box with ?box=sent.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	box := r.URL.Query().Get("box")

	var (
		msgs []model.Message
		err  error
	)
	if box == "sent" {
		msgs, err = h.messages.Sent(r.Context(), userID)
	} else {
		box = "inbox"
		msgs, err = h.messages.Inbox(r.Context(), userID)
	}
	if err != nil {
		logAndInternalError(w, "listing messages", "error", err)
		return
	}

	h.render(w, r, "member/messages", render.TemplateData{
		Title: "Messages",
		Data:  map[string]any{"Messages": msgs, "Box": box},
	})
}

// ComposeForm renders the new message form.
func (h *MessageHandler) ComposeForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "member/message_form", render.TemplateData{Title: "New message"})
}

// Compose sends a message to a member addressed by email.
func (h *MessageHandler) Compose(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, "/member/messages/new") {
		return
	}

	to := strings.TrimSpace(r.FormValue("to"))
	recipient, err := h.queries.GetAccountByEmail(r.Context(), to)
	if errors.Is(err, sql.ErrNoRows) {
		flashError(w, r, h.renderer, "/member/messages/new", "No member with that email address")
		return
	}
	if err != nil {
		logAndInternalError(w, "looking up recipient", "error", err)
		return
	}

	_, err = h.messages.Send(r.Context(), middleware.GetUserID(r), recipient.ID,
		r.FormValue("subject"), r.FormValue("content"), model.MessageTypeText, sql.NullInt64{})
	if errors.Is(err, service.ErrEmptyMessage) {
		flashError(w, r, h.renderer, "/member/messages/new", "Subject and message are required")
		return
	}
	if err != nil {
		logAndInternalError(w, "sending message", "error", err)
		return
	}

	flashSuccess(w, r, h.renderer, redirectMessages, "Message sent")
}

// Show renders one message and marks it read. Event application messages
// addressed to the viewer carry moderation controls.
func (h *MessageHandler) Show(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.ownMessage(w, r)
	if !ok {
		return
	}

	userID := middleware.GetUserID(r)
	if msg.ReceiverID == userID && !msg.IsRead {
		if err := h.messages.MarkRead(r.Context(), msg.ID, userID); err != nil {
			h.logger.Warn("marking message read failed", "message_id", msg.ID, "error", err)
		}
	}

	h.render(w, r, "member/message", render.TemplateData{
		Title: msg.Subject,
		Data:  map[string]any{"Message": msg, "Moderatable": moderatable(msg, userID)},
	})
}

// ProcessApplication decides the event application a message refers to,
// straight from the inbox.
func (h *MessageHandler) ProcessApplication(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.ownMessage(w, r)
	if !ok {
		return
	}
	back := redirectMessages + "/" + strconv.FormatInt(msg.ID, 10)

	userID := middleware.GetUserID(r)
	if !moderatable(msg, userID) {
		flashError(w, r, h.renderer, back, "This message has no pending application")
		return
	}
	if !parseFormOrRedirect(w, r, h.renderer, back) {
		return
	}
	approve := r.FormValue("decision") == "approve"

	profile := middleware.GetProfile(r)
	if profile == nil {
		flashError(w, r, h.renderer, back, "Your profile is still loading, try again")
		return
	}

	err := h.participation.Moderate(r.Context(), msg.RelatedEntityID.Int64, msg.SenderID, approve, profile)
	switch {
	case errors.Is(err, service.ErrEventNotFound):
		flashError(w, r, h.renderer, back, "The event no longer exists")
	case errors.Is(err, service.ErrNotModerator):
		flashError(w, r, h.renderer, back, "Only the organizer or an admin can decide requests")
	case errors.Is(err, service.ErrNotPending):
		flashError(w, r, h.renderer, back, "This request has already been decided")
	case err != nil:
		logAndInternalError(w, "processing application", "error", err)
	default:
		flashSuccess(w, r, h.renderer, back, "Decision recorded and the member has been notified")
	}
}

// ownMessage loads the routed message, restricted to its sender or receiver.
func (h *MessageHandler) ownMessage(w http.ResponseWriter, r *http.Request) (model.Message, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		flashError(w, r, h.renderer, redirectMessages, "Message not found")
		return model.Message{}, false
	}

	msg, err := h.messages.Get(r.Context(), id, middleware.GetUserID(r))
	if errors.Is(err, service.ErrMessageNotFound) {
		flashError(w, r, h.renderer, redirectMessages, "Message not found")
		return model.Message{}, false
	}
	if err != nil {
		logAndInternalError(w, "loading message", "error", err)
		return model.Message{}, false
	}
	return msg, true
}

// moderatable reports whether a message carries a decidable event
// application for its receiver.
func moderatable(msg model.Message, userID string) bool {
	return msg.ReceiverID == userID &&
		msg.MessageType == model.MessageTypeEventApplication &&
		msg.RelatedEntityID.Valid
}
