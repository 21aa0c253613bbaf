// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// Participation statuses. Pending is the only non-terminal state; a record
// never returns to pending once decided.
const (
	ParticipationPending  = "pending"
	ParticipationApproved = "approved"
	ParticipationRejected = "rejected"
)

// Event represents an activity posted on the event board.
// MaxParticipants of 0 means unlimited capacity.
type Event struct {
	ID              int64     `json:"id"`
	CreatorID       string    `json:"creator_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	EventTime       time.Time `json:"event_time"`
	MaxParticipants int64     `json:"max_participants"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Unlimited returns true when the event has no capacity limit.
func (e Event) Unlimited() bool {
	return e.MaxParticipants == 0
}

// Participant is one (event, user) join record and its moderation state.
type Participant struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Decided returns true once the record reached a terminal state.
func (p Participant) Decided() bool {
	return p.Status == ParticipationApproved || p.Status == ParticipationRejected
}
