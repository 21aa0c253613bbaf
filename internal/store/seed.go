// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/open-assoc/portal-go/internal/model"
)

// SeedAdmin ensures an initial administrator account exists. It is a no-op
// when an account with the given email is already present.
func SeedAdmin(ctx context.Context, q *Queries, email, passwordHash string, logger *slog.Logger) error {
	_, err := q.GetAccountByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("seed admin lookup: %w", err)
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	if err := q.CreateAccount(ctx, CreateAccountParams{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     "Administrator",
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return fmt.Errorf("seed admin account: %w", err)
	}
	if err := q.ProvisionProfile(ctx, ProvisionProfileParams{
		ID:               id,
		MembershipLevel:  model.LevelGeneral,
		MembershipStatus: model.MembershipActive,
		JoinDate:         now,
		UpdatedAt:        now,
	}); err != nil {
		return fmt.Errorf("seed admin profile: %w", err)
	}
	if err := q.UpdateMembership(ctx, UpdateMembershipParams{
		Role:            model.RoleAdmin,
		MembershipLevel: model.LevelGeneral,
		UpdatedAt:       now,
		ID:              id,
	}); err != nil {
		return fmt.Errorf("seed admin role: %w", err)
	}
	logger.Info("seeded initial admin account", "email", email)
	return nil
}
