// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/open-assoc/portal-go/internal/model"
)

const profileColumns = `id, email, password_hash, full_name, role, membership_level,
	membership_status, membership_duration_days, payment_status, phone, institution,
	provisioned, join_date, created_at, updated_at, last_login_at`

func scanProfile(row interface{ Scan(...any) error }) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(
		&p.ID, &p.Email, &p.PasswordHash, &p.FullName, &p.Role, &p.MembershipLevel,
		&p.MembershipStatus, &p.MembershipDurationDays, &p.PaymentStatus, &p.Phone,
		&p.Institution, &p.Provisioned, &p.JoinDate, &p.CreatedAt, &p.UpdatedAt,
		&p.LastLoginAt,
	)
	return p, err
}

// CreateAccountParams holds the credential columns written at registration.
// Membership columns stay at their defaults until the provisioner runs.
type CreateAccountParams struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	Phone        string
	Institution  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateAccount inserts a new unprovisioned account row.
func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, password_hash, full_name, phone, institution, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Email, arg.PasswordHash, arg.FullName, arg.Phone, arg.Institution,
		arg.CreatedAt, arg.UpdatedAt)
	return err
}

// ProvisionProfileParams fills the membership columns of a registered account.
type ProvisionProfileParams struct {
	ID                     string
	MembershipLevel        string
	MembershipStatus       string
	MembershipDurationDays int64
	JoinDate               time.Time
	UpdatedAt              time.Time
}

// ProvisionProfile marks an account as provisioned and sets its membership
// columns. Until this runs GetProfileByID reports the profile as missing.
func (q *Queries) ProvisionProfile(ctx context.Context, arg ProvisionProfileParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE profiles
		SET membership_level = ?, membership_status = ?, membership_duration_days = ?,
		    provisioned = 1, join_date = ?, updated_at = ?
		WHERE id = ?`,
		arg.MembershipLevel, arg.MembershipStatus, arg.MembershipDurationDays,
		arg.JoinDate, arg.UpdatedAt, arg.ID)
	return err
}

// GetProfileByID fetches a provisioned profile by id. Returns sql.ErrNoRows
// for accounts whose membership columns are still being provisioned; the
// hydration retry loop depends on that distinction.
func (q *Queries) GetProfileByID(ctx context.Context, id string) (model.Profile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ? AND provisioned = 1`, id)
	return scanProfile(row)
}

// GetAccountByID fetches an account regardless of provisioning state.
func (q *Queries) GetAccountByID(ctx context.Context, id string) (model.Profile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	return scanProfile(row)
}

// GetAccountByEmail fetches an account by email for credential checks.
func (q *Queries) GetAccountByEmail(ctx context.Context, email string) (model.Profile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE email = ?`, email)
	return scanProfile(row)
}

// ListProfiles returns all provisioned profiles, newest first.
func (q *Queries) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE provisioned = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CountProfiles returns the number of provisioned profiles.
func (q *Queries) CountProfiles(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE provisioned = 1`).Scan(&n)
	return n, err
}

// UpdateLastLoginParams updates the last login timestamp.
type UpdateLastLoginParams struct {
	LastLoginAt sql.NullTime
	ID          string
}

// UpdateLastLogin records the time of a successful sign-in.
func (q *Queries) UpdateLastLogin(ctx context.Context, arg UpdateLastLoginParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE profiles SET last_login_at = ? WHERE id = ?`, arg.LastLoginAt, arg.ID)
	return err
}

// UpdatePasswordParams updates an account's password hash.
type UpdatePasswordParams struct {
	PasswordHash string
	UpdatedAt    time.Time
	ID           string
}

// UpdatePassword replaces the stored password hash.
func (q *Queries) UpdatePassword(ctx context.Context, arg UpdatePasswordParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE profiles SET password_hash = ?, updated_at = ? WHERE id = ?`,
		arg.PasswordHash, arg.UpdatedAt, arg.ID)
	return err
}

// UpdateEmailParams updates an account's email address.
type UpdateEmailParams struct {
	Email     string
	UpdatedAt time.Time
	ID        string
}

// UpdateEmail replaces the account email after a confirmed change request.
func (q *Queries) UpdateEmail(ctx context.Context, arg UpdateEmailParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE profiles SET email = ?, updated_at = ? WHERE id = ?`,
		arg.Email, arg.UpdatedAt, arg.ID)
	return err
}

// UpdateMembershipParams holds the admin-editable membership columns.
type UpdateMembershipParams struct {
	Role                   string
	MembershipLevel        string
	MembershipDurationDays int64
	UpdatedAt              time.Time
	ID                     string
}

// UpdateMembership applies an administrator's edit of a member record.
func (q *Queries) UpdateMembership(ctx context.Context, arg UpdateMembershipParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE profiles
		SET role = ?, membership_level = ?, membership_duration_days = ?, updated_at = ?
		WHERE id = ?`,
		arg.Role, arg.MembershipLevel, arg.MembershipDurationDays, arg.UpdatedAt, arg.ID)
	return err
}

// SetMembershipStatusParams flips the membership status of a profile.
type SetMembershipStatusParams struct {
	MembershipStatus string
	UpdatedAt        time.Time
	ID               string
}

// SetMembershipStatus updates the membership status column.
func (q *Queries) SetMembershipStatus(ctx context.Context, arg SetMembershipStatusParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE profiles SET membership_status = ?, updated_at = ? WHERE id = ?`,
		arg.MembershipStatus, arg.UpdatedAt, arg.ID)
	return err
}

// DecrementMembershipDays subtracts one day from every active membership that
// still has days remaining. Returns the number of rows touched.
func (q *Queries) DecrementMembershipDays(ctx context.Context, updatedAt time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE profiles
		SET membership_duration_days = membership_duration_days - 1, updated_at = ?
		WHERE membership_status = 'active' AND membership_duration_days > 0`, updatedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateExpiredMemberships marks active memberships with no remaining
// days as inactive. Returns the number of rows touched.
func (q *Queries) DeactivateExpiredMemberships(ctx context.Context, updatedAt time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE profiles
		SET membership_status = 'inactive', updated_at = ?
		WHERE membership_status = 'active' AND membership_duration_days <= 0`, updatedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
