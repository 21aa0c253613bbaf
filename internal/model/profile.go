// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package model defines domain models and types used throughout the
// application including Profile, Event, Message, and Application structures.
package model

import (
	"database/sql"
	"time"
)

// User roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Membership statuses.
const (
	MembershipActive   = "active"
	MembershipPending  = "pending"
	MembershipRejected = "rejected"
	MembershipInactive = "inactive"
)

// Membership levels. Stored as-is; display names are a template concern.
const (
	LevelGeneral      = "General"
	LevelStudent      = "Student"
	LevelDirector     = "Director"
	LevelChairman     = "Chairman"
	LevelViceChairman = "Vice Chairman"
	LevelSecretary    = "Secretary"
)

// MembershipLevels lists all valid membership levels for form validation.
var MembershipLevels = []string{
	LevelGeneral, LevelStudent, LevelDirector,
	LevelChairman, LevelViceChairman, LevelSecretary,
}

// Profile represents a member or administrator account. It carries both the
// credential columns (email, password hash) and the membership columns. The
// membership columns are filled asynchronously by the provisioner after
// registration, signalled by Provisioned.
type Profile struct {
	ID                     string       `json:"id"` // UUID
	Email                  string       `json:"email"`
	PasswordHash           string       `json:"-"` // Never expose in JSON
	FullName               string       `json:"full_name"`
	Role                   string       `json:"role"`
	MembershipLevel        string       `json:"membership_level"`
	MembershipStatus       string       `json:"membership_status"`
	MembershipDurationDays int64        `json:"membership_duration_days"`
	PaymentStatus          string       `json:"payment_status"`
	Phone                  string       `json:"phone"`
	Institution            string       `json:"institution"`
	Provisioned            bool         `json:"provisioned"`
	JoinDate               sql.NullTime `json:"join_date"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
	LastLoginAt            sql.NullTime `json:"last_login_at,omitempty"`
}

// IsAdmin returns true if the profile has the admin role.
func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}
