// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/realtime"
	"github.com/open-assoc/portal-go/internal/store"
	"github.com/open-assoc/portal-go/internal/testutil"
)

func newMembershipService(t *testing.T) (*MembershipService, *store.Queries, *realtime.Feed) {
	t.Helper()

	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)

	logger := testutil.TestLoggerSilent()
	feed := realtime.NewFeed()
	t.Cleanup(feed.Close)

	audit := NewAuditService(db, logger)
	return NewMembershipService(db, feed, audit, logger), store.New(db), feed
}

func waitProvisioned(t *testing.T, q *store.Queries, id string) model.Profile {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p, err := q.GetProfileByID(context.Background(), id)
		if err == nil {
			return p
		}
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("GetProfileByID: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("profile was never provisioned")
	return model.Profile{}
}

func TestRegisterProvisionsAsynchronously(t *testing.T) {
	svc, q, _ := newMembershipService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, RegisterParams{
		Email:       "new@example.com",
		Password:    "correct horse battery staple",
		FullName:    "New Member",
		Phone:       "555-0100",
		Institution: "Example University",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// The account is usable for sign-in immediately.
	acct, err := q.GetAccountByEmail(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if acct.ID != id {
		t.Errorf("ID = %q, want %q", acct.ID, id)
	}

	// The provisioned profile appears shortly after.
	p := waitProvisioned(t, q, id)
	if p.MembershipStatus != model.MembershipPending {
		t.Errorf("MembershipStatus = %q, want pending", p.MembershipStatus)
	}
	if p.MembershipLevel != model.LevelGeneral {
		t.Errorf("MembershipLevel = %q, want General", p.MembershipLevel)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newMembershipService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterParams{Email: "dup@example.com", Password: "secret-password"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterParams{Email: "dup@example.com", Password: "other-password"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("second Register = %v, want ErrEmailTaken", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _, _ := newMembershipService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, RegisterParams{
		Email:    "login@example.com",
		Password: "correct horse battery staple",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	acct, err := svc.Authenticate(ctx, "login@example.com", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if acct.ID != id {
		t.Errorf("ID = %q, want %q", acct.ID, id)
	}

	if _, err := svc.Authenticate(ctx, "login@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Authenticate(ctx, "ghost@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email = %v, want ErrInvalidCredentials", err)
	}
}

func TestApplicationApproval(t *testing.T) {
	svc, q, _ := newMembershipService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, RegisterParams{
		Email: "applicant@example.com", Password: "secret-password", FullName: "Applicant",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	waitProvisioned(t, q, id)

	appID, err := svc.Apply(ctx, id, `{"reason":"research"}`)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := svc.DecideApplication(ctx, appID, true, "admin-id"); err != nil {
		t.Fatalf("DecideApplication: %v", err)
	}

	p, err := q.GetProfileByID(ctx, id)
	if err != nil {
		t.Fatalf("GetProfileByID: %v", err)
	}
	if p.MembershipStatus != model.MembershipActive {
		t.Errorf("MembershipStatus = %q, want active", p.MembershipStatus)
	}
	if p.MembershipDurationDays != defaultMembershipDays {
		t.Errorf("MembershipDurationDays = %d, want %d", p.MembershipDurationDays, defaultMembershipDays)
	}

	// Re-deciding fails without changing anything.
	if err := svc.DecideApplication(ctx, appID, false, "admin-id"); !errors.Is(err, ErrApplicationDecided) {
		t.Fatalf("second DecideApplication = %v, want ErrApplicationDecided", err)
	}
	p, _ = q.GetProfileByID(ctx, id)
	if p.MembershipStatus != model.MembershipActive {
		t.Errorf("MembershipStatus after re-decide = %q, first decision must stand", p.MembershipStatus)
	}
}

func TestUpdateMemberPublishesChange(t *testing.T) {
	svc, q, feed := newMembershipService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, RegisterParams{Email: "edit@example.com", Password: "secret-password"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	waitProvisioned(t, q, id)

	sub := feed.Subscribe("profiles", id)
	defer sub.Unsubscribe()

	if err := svc.UpdateMember(ctx, id, model.RoleAdmin, model.LevelDirector, 730, "admin-id"); err != nil {
		t.Fatalf("UpdateMember: %v", err)
	}

	select {
	case ch := <-sub.C:
		if ch.Op != realtime.OpUpdate {
			t.Errorf("Op = %q, want update", ch.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published for member edit")
	}

	p, _ := q.GetProfileByID(ctx, id)
	if p.Role != model.RoleAdmin || p.MembershipLevel != model.LevelDirector {
		t.Errorf("profile = %+v, edit not applied", p)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, _, _ := newMembershipService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterParams{Email: "reset@example.com", Password: "old-password-123"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	raw, err := svc.RequestPasswordReset(ctx, "reset@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if raw == "" {
		t.Fatal("expected a token for a known email")
	}

	// Unknown email: no token, no error, no enumeration.
	if tok, err := svc.RequestPasswordReset(ctx, "nobody@example.com"); err != nil || tok != "" {
		t.Fatalf("unknown email = (%q, %v), want empty and nil", tok, err)
	}

	if err := svc.ResetPassword(ctx, raw, "new-password-456"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "reset@example.com", "old-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password should no longer work")
	}
	if _, err := svc.Authenticate(ctx, "reset@example.com", "new-password-456"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	// Token is single-use.
	if err := svc.ResetPassword(ctx, raw, "third-password-789"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token reuse = %v, want ErrInvalidToken", err)
	}
}

func TestEmailChangeFlow(t *testing.T) {
	svc, q, _ := newMembershipService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, RegisterParams{Email: "before@example.com", Password: "secret-password"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	raw, err := svc.RequestEmailChange(ctx, id, "after@example.com")
	if err != nil {
		t.Fatalf("RequestEmailChange: %v", err)
	}

	if err := svc.ConfirmEmailChange(ctx, raw); err != nil {
		t.Fatalf("ConfirmEmailChange: %v", err)
	}

	acct, err := q.GetAccountByID(ctx, id)
	if err != nil {
		t.Fatalf("GetAccountByID: %v", err)
	}
	if acct.Email != "after@example.com" {
		t.Errorf("Email = %q, want after@example.com", acct.Email)
	}

	if err := svc.ConfirmEmailChange(ctx, "bogus-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("bogus token = %v, want ErrInvalidToken", err)
	}
}
