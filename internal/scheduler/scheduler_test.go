// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/store"
	"github.com/open-assoc/portal-go/internal/testutil"
)

func TestRunExpiry(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	ctx := context.Background()
	q := store.New(db)
	now := time.Now().UTC()

	id := uuid.NewString()
	if err := q.CreateAccount(ctx, store.CreateAccountParams{
		ID: id, Email: "exp@example.com", PasswordHash: "hash",
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := q.ProvisionProfile(ctx, store.ProvisionProfileParams{
		ID:                     id,
		MembershipLevel:        model.LevelGeneral,
		MembershipStatus:       model.MembershipActive,
		MembershipDurationDays: 1,
		JoinDate:               now,
		UpdatedAt:              now,
	}); err != nil {
		t.Fatalf("ProvisionProfile: %v", err)
	}

	// A token already past its expiry should be swept.
	if err := q.CreateToken(ctx, store.CreateTokenParams{
		TokenHash: "stale", UserID: id, Purpose: store.TokenPurposePasswordReset,
		ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	s := New(db, testutil.TestLoggerSilent())
	if err := s.RunExpiry(ctx); err != nil {
		t.Fatalf("RunExpiry: %v", err)
	}

	p, err := q.GetProfileByID(ctx, id)
	if err != nil {
		t.Fatalf("GetProfileByID: %v", err)
	}
	if p.MembershipDurationDays != 0 {
		t.Errorf("MembershipDurationDays = %d, want 0", p.MembershipDurationDays)
	}
	if p.MembershipStatus != model.MembershipInactive {
		t.Errorf("MembershipStatus = %q, want inactive", p.MembershipStatus)
	}

	if _, err := q.GetToken(ctx, "stale"); err == nil {
		t.Error("expired token should have been deleted")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	s := New(db, testutil.TestLoggerSilent())
	if err := s.Start("not a schedule"); err == nil {
		s.Stop()
		t.Fatal("Start should reject an invalid cron expression")
	}
}
