// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// Application statuses.
const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

// Application is a membership application submitted by a member and reviewed
// by an administrator. Content holds the applicant's statement as JSON.
type Application struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
