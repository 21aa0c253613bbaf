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

	"github.com/google/uuid"

	"github.com/open-assoc/portal-go/internal/auth"
	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/realtime"
	"github.com/open-assoc/portal-go/internal/store"
)

// Membership errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidToken       = errors.New("token is invalid or expired")
	ErrApplicationDecided = errors.New("application has already been decided")
	ErrProfileNotFound    = errors.New("profile not found")
)

// Default membership granted by the provisioner.
const defaultMembershipDays = 365

// Token lifetimes.
const (
	passwordResetTTL = time.Hour
	emailChangeTTL   = 24 * time.Hour
)

// MembershipService owns the account and membership lifecycle: registration
// with asynchronous profile provisioning, credential checks, membership
// applications, and the token flows for password reset and email change.
type MembershipService struct {
	queries *store.Queries
	feed    *realtime.Feed
	audit   *AuditService
	logger  *slog.Logger
}

// NewMembershipService creates a new MembershipService.
func NewMembershipService(db *sql.DB, feed *realtime.Feed, audit *AuditService, logger *slog.Logger) *MembershipService {
	return &MembershipService{
		queries: store.New(db),
		feed:    feed,
		audit:   audit,
		logger:  logger,
	}
}

// RegisterParams carries the registration form fields.
type RegisterParams struct {
	Email       string
	Password    string
	FullName    string
	Phone       string
	Institution string
}

// Register creates the credential row and schedules profile provisioning in
// the background. The new account can sign in immediately; until the
// provisioner commits, profile lookups miss and sessions hold in the
// loading state.
func (s *MembershipService) Register(ctx context.Context, arg RegisterParams) (string, error) {
	if _, err := s.queries.GetAccountByEmail(ctx, arg.Email); err == nil {
		return "", ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("checking email: %w", err)
	}

	hash, err := auth.HashPassword(arg.Password)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	err = s.queries.CreateAccount(ctx, store.CreateAccountParams{
		ID:           id,
		Email:        arg.Email,
		PasswordHash: hash,
		FullName:     arg.FullName,
		Phone:        arg.Phone,
		Institution:  arg.Institution,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return "", fmt.Errorf("creating account: %w", err)
	}

	go s.provision(id)

	_ = s.audit.LogAuth(ctx, model.AuditLevelInfo, "account registered", id, "",
		map[string]any{"email": arg.Email})

	return id, nil
}

// provision fills the membership columns of a freshly registered account.
func (s *MembershipService) provision(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	err := s.queries.ProvisionProfile(ctx, store.ProvisionProfileParams{
		ID:                     id,
		MembershipLevel:        model.LevelGeneral,
		MembershipStatus:       model.MembershipPending,
		MembershipDurationDays: 0,
		JoinDate:               now,
		UpdatedAt:              now,
	})
	if err != nil {
		s.logger.Error("profile provisioning failed", "user_id", id, "error", err)
		return
	}
	s.feed.Publish(realtime.Change{Table: "profiles", Key: id, Op: realtime.OpInsert})
}

// Authenticate checks credentials and returns the account. The stored hash
// is silently upgraded when its parameters are outdated.
func (s *MembershipService) Authenticate(ctx context.Context, email, password string) (*model.Profile, error) {
	acct, err := s.queries.GetAccountByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		// Burn a hash anyway so missing accounts are not distinguishable
		// by response time.
		_, _ = auth.CheckPassword(password, "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}

	ok, err := auth.CheckPassword(password, acct.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	if auth.NeedsRehash(acct.PasswordHash) {
		if newHash, err := auth.HashPassword(password); err == nil {
			_ = s.queries.UpdatePassword(ctx, store.UpdatePasswordParams{
				PasswordHash: newHash,
				UpdatedAt:    time.Now().UTC(),
				ID:           acct.ID,
			})
		}
	}

	_ = s.queries.UpdateLastLogin(ctx, store.UpdateLastLoginParams{
		LastLoginAt: sql.NullTime{Time: time.Now().UTC(), Valid: true},
		ID:          acct.ID,
	})

	return &acct, nil
}

// Apply files a membership application for a user.
func (s *MembershipService) Apply(ctx context.Context, userID, content string) (int64, error) {
	acct, err := s.queries.GetAccountByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("loading account: %w", err)
	}

	id, err := s.queries.CreateApplication(ctx, store.CreateApplicationParams{
		UserID:    userID,
		FullName:  acct.FullName,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("creating application: %w", err)
	}

	_ = s.audit.LogMembership(ctx, model.AuditLevelInfo, "membership application filed", userID, "",
		map[string]any{"application_id": id})

	return id, nil
}

// DecideApplication approves or rejects a pending membership application.
// Approval activates the applicant's membership with the default duration.
func (s *MembershipService) DecideApplication(ctx context.Context, applicationID int64, approve bool, adminID string) error {
	app, err := s.queries.GetApplicationByID(ctx, applicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("application %d: %w", applicationID, sql.ErrNoRows)
	}
	if err != nil {
		return fmt.Errorf("loading application: %w", err)
	}

	status := model.ApplicationRejected
	if approve {
		status = model.ApplicationApproved
	}

	decided, err := s.queries.DecideApplication(ctx, store.DecideApplicationParams{
		Status: status,
		ID:     applicationID,
	})
	if err != nil {
		return fmt.Errorf("deciding application: %w", err)
	}
	if !decided {
		return ErrApplicationDecided
	}

	now := time.Now().UTC()
	if approve {
		err = s.queries.UpdateMembership(ctx, store.UpdateMembershipParams{
			Role:                   model.RoleMember,
			MembershipLevel:        model.LevelGeneral,
			MembershipDurationDays: defaultMembershipDays,
			UpdatedAt:              now,
			ID:                     app.UserID,
		})
		if err != nil {
			return fmt.Errorf("updating membership: %w", err)
		}
		err = s.queries.SetMembershipStatus(ctx, store.SetMembershipStatusParams{
			MembershipStatus: model.MembershipActive,
			UpdatedAt:        now,
			ID:               app.UserID,
		})
	} else {
		err = s.queries.SetMembershipStatus(ctx, store.SetMembershipStatusParams{
			MembershipStatus: model.MembershipRejected,
			UpdatedAt:        now,
			ID:               app.UserID,
		})
	}
	if err != nil {
		return fmt.Errorf("setting membership status: %w", err)
	}

	s.feed.Publish(realtime.Change{Table: "profiles", Key: app.UserID, Op: realtime.OpUpdate})

	_ = s.audit.LogMembership(ctx, model.AuditLevelInfo, "membership application decided", adminID, "",
		map[string]any{"application_id": applicationID, "status": status, "applicant_id": app.UserID})

	return nil
}

// UpdateMember applies an administrator's edit of a member's role, level,
// and remaining duration.
func (s *MembershipService) UpdateMember(ctx context.Context, memberID, role, level string, durationDays int64, adminID string) error {
	if _, err := s.queries.GetProfileByID(ctx, memberID); errors.Is(err, sql.ErrNoRows) {
		return ErrProfileNotFound
	} else if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	err := s.queries.UpdateMembership(ctx, store.UpdateMembershipParams{
		Role:                   role,
		MembershipLevel:        level,
		MembershipDurationDays: durationDays,
		UpdatedAt:              time.Now().UTC(),
		ID:                     memberID,
	})
	if err != nil {
		return fmt.Errorf("updating membership: %w", err)
	}

	s.feed.Publish(realtime.Change{Table: "profiles", Key: memberID, Op: realtime.OpUpdate})

	_ = s.audit.LogMembership(ctx, model.AuditLevelInfo, "member record updated", adminID, "",
		map[string]any{"member_id": memberID, "role": role, "level": level, "duration_days": durationDays})

	return nil
}

// RequestPasswordReset creates a reset token for the account with the given
// email. The raw token is returned for delivery; only its hash is stored.
// An unknown email returns an empty token and no error, so the endpoint
// does not leak which addresses exist.
func (s *MembershipService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	acct, err := s.queries.GetAccountByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading account: %w", err)
	}

	raw, digest, err := auth.NewToken()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	err = s.queries.CreateToken(ctx, store.CreateTokenParams{
		TokenHash: digest,
		UserID:    acct.ID,
		Purpose:   store.TokenPurposePasswordReset,
		ExpiresAt: now.Add(passwordResetTTL),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}

	_ = s.audit.LogAuth(ctx, model.AuditLevelInfo, "password reset requested", acct.ID, "", nil)

	return raw, nil
}

// ResetPassword redeems a reset token and sets a new password.
func (s *MembershipService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	tok, err := s.redeemToken(ctx, rawToken, store.TokenPurposePasswordReset)
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	err = s.queries.UpdatePassword(ctx, store.UpdatePasswordParams{
		PasswordHash: hash,
		UpdatedAt:    time.Now().UTC(),
		ID:           tok.UserID,
	})
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	_ = s.audit.LogAuth(ctx, model.AuditLevelInfo, "password reset completed", tok.UserID, "", nil)

	return nil
}

// RequestEmailChange creates an email change token carrying the new address
// as payload. The raw token is returned for delivery to the new address.
func (s *MembershipService) RequestEmailChange(ctx context.Context, userID, newEmail string) (string, error) {
	if _, err := s.queries.GetAccountByEmail(ctx, newEmail); err == nil {
		return "", ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("checking email: %w", err)
	}

	raw, digest, err := auth.NewToken()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	err = s.queries.CreateToken(ctx, store.CreateTokenParams{
		TokenHash: digest,
		UserID:    userID,
		Purpose:   store.TokenPurposeEmailChange,
		Payload:   newEmail,
		ExpiresAt: now.Add(emailChangeTTL),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}

	return raw, nil
}

// ConfirmEmailChange redeems an email change token and applies the new
// address.
func (s *MembershipService) ConfirmEmailChange(ctx context.Context, rawToken string) error {
	tok, err := s.redeemToken(ctx, rawToken, store.TokenPurposeEmailChange)
	if err != nil {
		return err
	}

	err = s.queries.UpdateEmail(ctx, store.UpdateEmailParams{
		Email:     tok.Payload,
		UpdatedAt: time.Now().UTC(),
		ID:        tok.UserID,
	})
	if err != nil {
		return fmt.Errorf("updating email: %w", err)
	}

	s.feed.Publish(realtime.Change{Table: "profiles", Key: tok.UserID, Op: realtime.OpUpdate})

	_ = s.audit.LogAuth(ctx, model.AuditLevelInfo, "email address changed", tok.UserID, "", nil)

	return nil
}

// redeemToken validates and consumes a single-use token.
func (s *MembershipService) redeemToken(ctx context.Context, rawToken, purpose string) (store.Token, error) {
	tok, err := s.queries.GetToken(ctx, auth.HashToken(rawToken))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Token{}, ErrInvalidToken
	}
	if err != nil {
		return store.Token{}, fmt.Errorf("loading token: %w", err)
	}
	if tok.Purpose != purpose || time.Now().UTC().After(tok.ExpiresAt) {
		return store.Token{}, ErrInvalidToken
	}
	if err := s.queries.DeleteToken(ctx, tok.TokenHash); err != nil {
		return store.Token{}, fmt.Errorf("consuming token: %w", err)
	}
	return tok, nil
}
