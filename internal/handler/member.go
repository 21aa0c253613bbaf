// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/open-assoc/portal-go/internal/middleware"
	"github.com/open-assoc/portal-go/internal/render"
	"github.com/open-assoc/portal-go/internal/service"
	"github.com/open-assoc/portal-go/internal/store"
)

// MemberHandler serves the member area: profile page, email change, and
// membership applications.
type MemberHandler struct {
	queries    *store.Queries
	membership *service.MembershipService
	messages   *service.MessageService
	renderer   *render.Renderer
	logger     *slog.Logger
}

// NewMemberHandler creates a new MemberHandler.
func NewMemberHandler(db *sql.DB, membership *service.MembershipService,
	messages *service.MessageService, renderer *render.Renderer, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{
		queries:    store.New(db),
		membership: membership,
		messages:   messages,
		renderer:   renderer,
		logger:     logger,
	}
}

// render wraps Renderer.Render with the signed-in profile and unread count
// that every member page shows in the navigation.
func (h *MemberHandler) render(w http.ResponseWriter, r *http.Request, name string, data render.TemplateData) {
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

// Dashboard renders the member's profile page.
func (h *MemberHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfile(r)
	h.render(w, r, "member/dashboard", render.TemplateData{
		Title: "My profile",
		Data:  map[string]any{"Profile": profile},
	})
}

// RequestEmailChange handles the email change form. The confirmation link
// goes to the new address; the change applies only once confirmed.
func (h *MemberHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, redirectMember) {
		return
	}

	newEmail := strings.TrimSpace(r.FormValue("new_email"))
	if newEmail == "" {
		flashError(w, r, h.renderer, redirectMember, "A new email address is required")
		return
	}

	token, err := h.membership.RequestEmailChange(r.Context(), middleware.GetUserID(r), newEmail)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			flashError(w, r, h.renderer, redirectMember, "That address is already in use")
			return
		}
		logAndInternalError(w, "email change request failed", "error", err)
		return
	}

	h.logger.Info("email change link issued", "user_id", middleware.GetUserID(r),
		"url", "/member/confirm-email?token="+token)
	flashSuccess(w, r, h.renderer, redirectMember, "A confirmation link has been sent to the new address")
}

// ConfirmEmailChange redeems an email change token from the link.
func (h *MemberHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if err := h.membership.ConfirmEmailChange(r.Context(), token); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			flashError(w, r, h.renderer, redirectMember, "Confirmation link is invalid or expired")
			return
		}
		logAndInternalError(w, "email change confirmation failed", "error", err)
		return
	}
	flashSuccess(w, r, h.renderer, redirectMember, "Email address updated")
}

// ApplyForm renders the membership application page with the member's
// application history.
func (h *MemberHandler) ApplyForm(w http.ResponseWriter, r *http.Request) {
	apps, err := h.queries.ListApplicationsForUser(r.Context(), middleware.GetUserID(r))
	if err != nil {
		logAndInternalError(w, "listing applications", "error", err)
		return
	}
	h.render(w, r, "member/apply", render.TemplateData{
		Title: "Membership application",
		Data:  map[string]any{"Applications": apps},
	})
}

// Apply files a membership application.
func (h *MemberHandler) Apply(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, "/member/apply") {
		return
	}

	content := strings.TrimSpace(r.FormValue("content"))
	if content == "" {
		flashError(w, r, h.renderer, "/member/apply", "A statement is required")
		return
	}

	if _, err := h.membership.Apply(r.Context(), middleware.GetUserID(r), content); err != nil {
		logAndInternalError(w, "filing application", "error", err)
		return
	}
	flashSuccess(w, r, h.renderer, "/member/apply", "Application submitted")
}
