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
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/open-assoc/portal-go/internal/middleware"
	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/render"
	"github.com/open-assoc/portal-go/internal/service"
	"github.com/open-assoc/portal-go/internal/store"
)

const redirectEvents = "/member/events"

// EventHandler serves the event board: listing, posting, editing, and the
// join and moderation workflow.
type EventHandler struct {
	queries       *store.Queries
	participation *service.ParticipationService
	messages      *service.MessageService
	renderer      *render.Renderer
	logger        *slog.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(db *sql.DB, participation *service.ParticipationService,
	messages *service.MessageService, renderer *render.Renderer, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		queries:       store.New(db),
		participation: participation,
		messages:      messages,
		renderer:      renderer,
		logger:        logger,
	}
}

func (h *EventHandler) render(w http.ResponseWriter, r *http.Request, name string, data render.TemplateData) {
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

// eventID extracts the event id from the route.
func eventID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// List renders the event board.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	events, err := h.queries.ListEvents(r.Context())
	if err != nil {
		logAndInternalError(w, "listing events", "error", err)
		return
	}
	h.render(w, r, "member/events", render.TemplateData{
		Title: "Event board",
		Data:  map[string]any{"Events": events},
	})
}

// Show renders one event with the viewer's participation state and, for the
// creator or an admin, the moderation table.
func (h *EventHandler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		flashError(w, r, h.renderer, redirectEvents, "Event not found")
		return
	}

	event, err := h.queries.GetEventByID(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		flashError(w, r, h.renderer, redirectEvents, "Event not found")
		return
	}
	if err != nil {
		logAndInternalError(w, "loading event", "error", err)
		return
	}

	userID := middleware.GetUserID(r)
	part, err := h.participation.Participation(r.Context(), id, userID)
	if err != nil {
		logAndInternalError(w, "loading participation", "error", err)
		return
	}

	activeCount, err := h.queries.CountActiveParticipants(r.Context(), id)
	if err != nil {
		logAndInternalError(w, "counting participants", "error", err)
		return
	}

	profile := middleware.GetProfile(r)
	canManage := event.CreatorID == userID || (profile != nil && profile.IsAdmin())

	data := map[string]any{
		"Event":         event,
		"Participation": part,
		"ActiveCount":   activeCount,
		"CanManage":     canManage,
	}
	if canManage {
		participants, err := h.queries.ListParticipantsForEvent(r.Context(), id)
		if err != nil {
			logAndInternalError(w, "listing participants", "error", err)
			return
		}
		data["Participants"] = participants
	}

	h.render(w, r, "member/event", render.TemplateData{Title: event.Title, Data: data})
}

// NewForm renders the event creation form.
func (h *EventHandler) NewForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "member/event_form", render.TemplateData{
		Title: "Post an event",
		Data:  map[string]any{},
	})
}

// parseEventForm reads the shared fields of the create and edit forms.
func parseEventForm(r *http.Request) (title, description, location string, eventTime time.Time, maxParticipants int64, err error) {
	title = strings.TrimSpace(r.FormValue("title"))
	description = r.FormValue("description")
	location = strings.TrimSpace(r.FormValue("location"))
	eventTime, err = time.Parse("2006-01-02T15:04", r.FormValue("event_time"))
	if err != nil {
		return
	}
	maxParticipants, err = strconv.ParseInt(r.FormValue("max_participants"), 10, 64)
	if err != nil || maxParticipants < 0 {
		maxParticipants = 0
		err = nil
	}
	return
}

// Create handles the event creation form.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, redirectEvents) {
		return
	}

	title, description, location, eventTime, maxParticipants, err := parseEventForm(r)
	if err != nil || title == "" {
		flashError(w, r, h.renderer, "/member/events/new", "A title and a valid date are required")
		return
	}

	now := time.Now().UTC()
	id, err := h.queries.CreateEvent(r.Context(), store.CreateEventParams{
		CreatorID:       middleware.GetUserID(r),
		Title:           title,
		Description:     description,
		Location:        location,
		EventTime:       eventTime,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		logAndInternalError(w, "creating event", "error", err)
		return
	}

	flashSuccess(w, r, h.renderer, "/member/events/"+strconv.FormatInt(id, 10), "Event posted")
}

// EditForm renders the edit form for an event the viewer may manage.
func (h *EventHandler) EditForm(w http.ResponseWriter, r *http.Request) {
	event, ok := h.manageableEvent(w, r)
	if !ok {
		return
	}
	h.render(w, r, "member/event_form", render.TemplateData{
		Title: "Edit event",
		Data:  map[string]any{"Event": event},
	})
}

// Edit applies an edit to an event the viewer may manage.
func (h *EventHandler) Edit(w http.ResponseWriter, r *http.Request) {
	event, ok := h.manageableEvent(w, r)
	if !ok {
		return
	}
	if !parseFormOrRedirect(w, r, h.renderer, redirectEvents) {
		return
	}

	title, description, location, eventTime, maxParticipants, err := parseEventForm(r)
	if err != nil || title == "" {
		flashError(w, r, h.renderer, redirectEvents, "A title and a valid date are required")
		return
	}

	err = h.queries.UpdateEvent(r.Context(), store.UpdateEventParams{
		Title:           title,
		Description:     description,
		Location:        location,
		EventTime:       eventTime,
		MaxParticipants: maxParticipants,
		UpdatedAt:       time.Now().UTC(),
		ID:              event.ID,
	})
	if err != nil {
		logAndInternalError(w, "updating event", "error", err)
		return
	}

	flashSuccess(w, r, h.renderer, "/member/events/"+strconv.FormatInt(event.ID, 10), "Event updated")
}

// Delete removes an event the viewer may manage.
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	event, ok := h.manageableEvent(w, r)
	if !ok {
		return
	}

	if err := h.queries.DeleteEvent(r.Context(), event.ID); err != nil {
		logAndInternalError(w, "deleting event", "error", err)
		return
	}
	flashSuccess(w, r, h.renderer, redirectEvents, "Event deleted")
}

// Join records a join request for the signed-in member.
func (h *EventHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		flashError(w, r, h.renderer, redirectEvents, "Event not found")
		return
	}
	back := "/member/events/" + strconv.FormatInt(id, 10)

	err = h.participation.RequestJoin(r.Context(), id, middleware.GetUserID(r))
	switch {
	case errors.Is(err, service.ErrEventNotFound):
		flashError(w, r, h.renderer, redirectEvents, "Event not found")
	case errors.Is(err, service.ErrEventFull):
		flashError(w, r, h.renderer, back, "This event is full")
	case errors.Is(err, service.ErrAlreadyJoined):
		flashError(w, r, h.renderer, back, "You have already requested to join this event")
	case err != nil:
		logAndInternalError(w, "joining event", "error", err)
	default:
		flashSuccess(w, r, h.renderer, back, "Join request sent to the organizer")
	}
}

// Moderate applies an approve/reject decision to a join request.
func (h *EventHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		flashError(w, r, h.renderer, redirectEvents, "Event not found")
		return
	}
	back := "/member/events/" + strconv.FormatInt(id, 10)

	if !parseFormOrRedirect(w, r, h.renderer, back) {
		return
	}
	requesterID := r.FormValue("user_id")
	approve := r.FormValue("decision") == "approve"

	profile := middleware.GetProfile(r)
	if profile == nil {
		flashError(w, r, h.renderer, back, "Your profile is still loading, try again")
		return
	}

	err = h.participation.Moderate(r.Context(), id, requesterID, approve, profile)
	switch {
	case errors.Is(err, service.ErrEventNotFound):
		flashError(w, r, h.renderer, redirectEvents, "Event not found")
	case errors.Is(err, service.ErrNotModerator):
		flashError(w, r, h.renderer, back, "Only the organizer or an admin can decide requests")
	case errors.Is(err, service.ErrNotPending):
		flashError(w, r, h.renderer, back, "This request has already been decided")
	case err != nil:
		logAndInternalError(w, "moderating join request", "error", err)
	default:
		flashSuccess(w, r, h.renderer, back, "Decision recorded and the member has been notified")
	}
}

// manageableEvent loads the routed event and checks that the viewer is its
// creator or an admin.
func (h *EventHandler) manageableEvent(w http.ResponseWriter, r *http.Request) (model.Event, bool) {
	id, err := eventID(r)
	if err != nil {
		flashError(w, r, h.renderer, redirectEvents, "Event not found")
		return model.Event{}, false
	}

	event, err := h.queries.GetEventByID(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		flashError(w, r, h.renderer, redirectEvents, "Event not found")
		return model.Event{}, false
	}
	if err != nil {
		logAndInternalError(w, "loading event", "error", err)
		return model.Event{}, false
	}

	profile := middleware.GetProfile(r)
	if event.CreatorID != middleware.GetUserID(r) && (profile == nil || !profile.IsAdmin()) {
		flashError(w, r, h.renderer, redirectEvents, "You cannot manage this event")
		return model.Event{}, false
	}
	return event, true
}
