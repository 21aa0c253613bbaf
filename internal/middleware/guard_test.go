// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/open-assoc/portal-go/internal/authstate"
	"github.com/open-assoc/portal-go/internal/model"
)

func memberProfile(role string) *model.Profile {
	return &model.Profile{ID: "user-1", Role: role}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		snap authstate.Snapshot
		role string
		want Decision
	}{
		{
			name: "loading wins over everything",
			snap: authstate.Snapshot{Identity: "user-1", Loading: true},
			role: model.RoleAdmin,
			want: DecisionLoading,
		},
		{
			name: "loading with no identity",
			snap: authstate.Snapshot{Loading: true},
			role: model.RoleMember,
			want: DecisionLoading,
		},
		{
			name: "unauthenticated",
			snap: authstate.Snapshot{},
			role: model.RoleMember,
			want: DecisionUnauthenticated,
		},
		{
			name: "member passes member guard",
			snap: authstate.Snapshot{Identity: "user-1", Profile: memberProfile(model.RoleMember)},
			role: model.RoleMember,
			want: DecisionAuthorized,
		},
		{
			name: "admin passes member guard",
			snap: authstate.Snapshot{Identity: "user-1", Profile: memberProfile(model.RoleAdmin)},
			role: model.RoleMember,
			want: DecisionAuthorized,
		},
		{
			name: "member fails admin guard",
			snap: authstate.Snapshot{Identity: "user-1", Profile: memberProfile(model.RoleMember)},
			role: model.RoleAdmin,
			want: DecisionNoRoleMatch,
		},
		{
			name: "admin passes admin guard",
			snap: authstate.Snapshot{Identity: "user-1", Profile: memberProfile(model.RoleAdmin)},
			role: model.RoleAdmin,
			want: DecisionAuthorized,
		},
		{
			name: "missing profile fails admin guard",
			snap: authstate.Snapshot{Identity: "user-1"},
			role: model.RoleAdmin,
			want: DecisionNoRoleMatch,
		},
		{
			name: "missing profile passes member guard",
			snap: authstate.Snapshot{Identity: "user-1"},
			role: model.RoleMember,
			want: DecisionAuthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.snap, tt.role); got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func guardRequest(t *testing.T, snap authstate.Snapshot, role string) *httptest.ResponseRecorder {
	t.Helper()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("content"))
	})

	req := httptest.NewRequest(http.MethodGet, "/member", nil)
	req = req.WithContext(context.WithValue(req.Context(), ContextKeySnapshot, snap))

	rec := httptest.NewRecorder()
	Guard(role)(next).ServeHTTP(rec, req)
	return rec
}

func TestGuardLoading(t *testing.T) {
	rec := guardRequest(t, authstate.Snapshot{Identity: "user-1", Loading: true}, model.RoleMember)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "refresh") {
		t.Error("loading page should auto-refresh")
	}
	if strings.Contains(body, "content") {
		t.Error("protected content must not render while loading")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("loading page must not be cached")
	}
}

func TestGuardUnauthenticated(t *testing.T) {
	rec := guardRequest(t, authstate.Snapshot{}, model.RoleMember)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want /login", loc)
	}
}

func TestGuardRoleMismatch(t *testing.T) {
	snap := authstate.Snapshot{Identity: "user-1", Profile: memberProfile(model.RoleMember)}
	rec := guardRequest(t, snap, model.RoleAdmin)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/member" {
		t.Errorf("Location = %q, want /member", loc)
	}
}

func TestGuardAuthorized(t *testing.T) {
	snap := authstate.Snapshot{Identity: "user-1", Profile: memberProfile(model.RoleAdmin)}
	rec := guardRequest(t, snap, model.RoleAdmin)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "content" {
		t.Error("authorized request should reach the handler")
	}
}
