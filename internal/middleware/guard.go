// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"io"
	"net/http"

	"github.com/open-assoc/portal-go/internal/authstate"
	"github.com/open-assoc/portal-go/internal/model"
)

// Decision is the outcome of evaluating a guard against an auth snapshot.
type Decision int

// Guard decisions.
const (
	DecisionAuthorized Decision = iota
	DecisionLoading
	DecisionUnauthenticated
	DecisionNoRoleMatch
)

// Decide evaluates a role guard against an auth snapshot.
//
// Loading always wins: while hydration is in flight no redirect is issued,
// so a slow profile fetch cannot bounce a signed-in user to the login page.
// Member guards admit any authenticated identity, including admins and
// accounts whose profile is missing; that keeps a broken profile from
// looping between the member page and its own guard. Admin guards require
// a hydrated profile with the admin role, so a missing profile never
// grants elevated access.
func Decide(snap authstate.Snapshot, requiredRole string) Decision {
	if snap.Loading {
		return DecisionLoading
	}
	if snap.Identity == "" {
		return DecisionUnauthenticated
	}
	if requiredRole == model.RoleAdmin {
		if snap.Profile == nil || snap.Profile.Role != model.RoleAdmin {
			return DecisionNoRoleMatch
		}
	}
	return DecisionAuthorized
}

const loadingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<title>Loading</title>
</head>
<body>
<p>Loading your session&hellip;</p>
</body>
</html>
`

// Guard creates middleware that enforces a role requirement using the
// snapshot placed in the context by AuthState.
func Guard(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch Decide(GetSnapshot(r), requiredRole) {
			case DecisionLoading:
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusOK)
				_, _ = io.WriteString(w, loadingPage)
			case DecisionUnauthenticated:
				http.Redirect(w, r, "/login", http.StatusSeeOther)
			case DecisionNoRoleMatch:
				http.Redirect(w, r, "/member", http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
