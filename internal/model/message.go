// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"database/sql"
	"time"
)

// Message types.
const (
	MessageTypeText             = "text"
	MessageTypeEventApplication = "event_application"
)

// Message is a directed, immutable in-app message. Only the read flag is
// mutable after creation. Event application messages reference the event via
// RelatedEntityID so the recipient can moderate from the inbox.
type Message struct {
	ID              int64         `json:"id"`
	SenderID        string        `json:"sender_id"`
	ReceiverID      string        `json:"receiver_id"`
	Subject         string        `json:"subject"`
	Content         string        `json:"content"`
	MessageType     string        `json:"message_type"`
	RelatedEntityID sql.NullInt64 `json:"related_entity_id,omitempty"`
	IsRead          bool          `json:"is_read"`
	CreatedAt       time.Time     `json:"created_at"`
}
