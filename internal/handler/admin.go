// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/open-assoc/portal-go/internal/cache"
	"github.com/open-assoc/portal-go/internal/middleware"
	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/render"
	"github.com/open-assoc/portal-go/internal/service"
	"github.com/open-assoc/portal-go/internal/store"
)

const (
	redirectAdmin        = "/admin"
	redirectAdminMembers = "/admin/members"

	memberDirectoryCacheKey = "admin:members"
	memberDirectoryCacheTTL = time.Minute
	auditPageSize           = 100
)

// AdminHandler serves the administration area: member management,
// application review, and the audit log.
type AdminHandler struct {
	queries    *store.Queries
	membership *service.MembershipService
	messages   *service.MessageService
	cache      cache.Cache
	renderer   *render.Renderer
	logger     *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(db *sql.DB, membership *service.MembershipService,
	messages *service.MessageService, c cache.Cache, renderer *render.Renderer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		queries:    store.New(db),
		membership: membership,
		messages:   messages,
		cache:      c,
		renderer:   renderer,
		logger:     logger,
	}
}

func (h *AdminHandler) render(w http.ResponseWriter, r *http.Request, name string, data render.TemplateData) {
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

// Dashboard renders the admin overview.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	memberCount, err := h.queries.CountProfiles(r.Context())
	if err != nil {
		logAndInternalError(w, "counting profiles", "error", err)
		return
	}

	apps, err := h.queries.ListApplications(r.Context())
	if err != nil {
		logAndInternalError(w, "listing applications", "error", err)
		return
	}
	pending := 0
	for _, a := range apps {
		if a.Status == model.ApplicationPending {
			pending++
		}
	}

	h.render(w, r, "admin/dashboard", render.TemplateData{
		Title: "Administration",
		Data: map[string]any{
			"MemberCount":         memberCount,
			"PendingApplications": pending,
		},
	})
}

// Members renders the member directory. The listing is cached briefly; any
// admin edit invalidates it.
func (h *AdminHandler) Members(w http.ResponseWriter, r *http.Request) {
	var members []model.Profile

	if data, err := h.cache.Get(r.Context(), memberDirectoryCacheKey); err == nil {
		if err := json.Unmarshal(data, &members); err != nil {
			members = nil
		}
	}

	if members == nil {
		var err error
		members, err = h.queries.ListProfiles(r.Context())
		if err != nil {
			logAndInternalError(w, "listing profiles", "error", err)
			return
		}
		if data, err := json.Marshal(members); err == nil {
			if err := h.cache.Set(r.Context(), memberDirectoryCacheKey, data, memberDirectoryCacheTTL); err != nil {
				h.logger.Warn("caching member directory failed", "error", err)
			}
		}
	}

	h.render(w, r, "admin/members", render.TemplateData{
		Title: "Members",
		Data:  map[string]any{"Members": members},
	})
}

// ExportMembers streams the member directory as a CSV download.
func (h *AdminHandler) ExportMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.queries.ListProfiles(r.Context())
	if err != nil {
		logAndInternalError(w, "listing profiles", "error", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		`attachment; filename="members-`+time.Now().Format("2006-01-02")+`.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"name", "email", "role", "level", "status", "days_left", "joined"})
	for _, m := range members {
		joined := ""
		if m.JoinDate.Valid {
			joined = m.JoinDate.Time.Format("2006-01-02")
		}
		_ = cw.Write([]string{
			m.FullName,
			m.Email,
			m.Role,
			m.MembershipLevel,
			m.MembershipStatus,
			strconv.FormatInt(m.MembershipDurationDays, 10),
			joined,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("writing member export failed", "error", err)
	}
}

// MemberEditForm renders the edit form for one member.
func (h *AdminHandler) MemberEditForm(w http.ResponseWriter, r *http.Request) {
	member, err := h.queries.GetProfileByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		flashError(w, r, h.renderer, redirectAdminMembers, "Member not found")
		return
	}
	if err != nil {
		logAndInternalError(w, "loading profile", "error", err)
		return
	}

	h.render(w, r, "admin/member_edit", render.TemplateData{
		Title: "Edit member",
		Data: map[string]any{
			"Member": member,
			"Levels": model.MembershipLevels,
		},
	})
}

// MemberEdit applies an edit to a member's role, level, and duration.
func (h *AdminHandler) MemberEdit(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "id")
	if !parseFormOrRedirect(w, r, h.renderer, redirectAdminMembers) {
		return
	}

	role := r.FormValue("role")
	if role != model.RoleMember && role != model.RoleAdmin {
		flashError(w, r, h.renderer, redirectAdminMembers, "Invalid role")
		return
	}

	level := r.FormValue("level")
	validLevel := false
	for _, l := range model.MembershipLevels {
		if l == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		flashError(w, r, h.renderer, redirectAdminMembers, "Invalid membership level")
		return
	}

	days, err := strconv.ParseInt(r.FormValue("duration_days"), 10, 64)
	if err != nil || days < 0 {
		flashError(w, r, h.renderer, redirectAdminMembers, "Invalid duration")
		return
	}

	err = h.membership.UpdateMember(r.Context(), memberID, role, level, days, middleware.GetUserID(r))
	if errors.Is(err, service.ErrProfileNotFound) {
		flashError(w, r, h.renderer, redirectAdminMembers, "Member not found")
		return
	}
	if err != nil {
		logAndInternalError(w, "updating member", "error", err)
		return
	}

	if err := h.cache.Delete(r.Context(), memberDirectoryCacheKey); err != nil {
		h.logger.Warn("invalidating member directory cache failed", "error", err)
	}

	flashSuccess(w, r, h.renderer, redirectAdminMembers, "Member updated")
}

// Applications renders the application review page.
func (h *AdminHandler) Applications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.queries.ListApplications(r.Context())
	if err != nil {
		logAndInternalError(w, "listing applications", "error", err)
		return
	}

	h.render(w, r, "admin/applications", render.TemplateData{
		Title: "Applications",
		Data:  map[string]any{"Applications": apps},
	})
}

// DecideApplication approves or rejects a membership application.
func (h *AdminHandler) DecideApplication(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		flashError(w, r, h.renderer, "/admin/applications", "Application not found")
		return
	}
	if !parseFormOrRedirect(w, r, h.renderer, "/admin/applications") {
		return
	}
	approve := r.FormValue("decision") == "approve"

	err = h.membership.DecideApplication(r.Context(), id, approve, middleware.GetUserID(r))
	switch {
	case errors.Is(err, service.ErrApplicationDecided):
		flashError(w, r, h.renderer, "/admin/applications", "This application has already been decided")
	case errors.Is(err, sql.ErrNoRows):
		flashError(w, r, h.renderer, "/admin/applications", "Application not found")
	case err != nil:
		logAndInternalError(w, "deciding application", "error", err)
	default:
		if err := h.cache.Delete(r.Context(), memberDirectoryCacheKey); err != nil {
			h.logger.Warn("invalidating member directory cache failed", "error", err)
		}
		flashSuccess(w, r, h.renderer, "/admin/applications", "Decision recorded")
	}
}

// Audit renders the most recent audit events.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	events, err := h.queries.ListRecentAuditEvents(r.Context(), auditPageSize)
	if err != nil {
		logAndInternalError(w, "listing audit events", "error", err)
		return
	}

	h.render(w, r, "admin/audit", render.TemplateData{
		Title: "Audit log",
		Data:  map[string]any{"Events": events},
	})
}
