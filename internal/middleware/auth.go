// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package middleware provides HTTP middleware for authentication state,
// role guards, and request protection.
package middleware

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"

	"github.com/open-assoc/portal-go/internal/authstate"
	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/session"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// Context keys for request-scoped auth data.
const (
	ContextKeyStore       ContextKey = "auth_store"
	ContextKeySnapshot    ContextKey = "auth_snapshot"
	ContextKeyRequestPath ContextKey = "request_path"
)

// AuthState creates middleware that resolves the auth state store for the
// request's session and puts a snapshot into the context. Must run inside
// the session manager's LoadAndSave wrapper.
func AuthState(sm *scs.SessionManager, registry *authstate.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sm.Token(r.Context())
			if token == "" {
				// Visitor with no persisted session: nothing to restore.
				ctx := context.WithValue(r.Context(), ContextKeySnapshot, authstate.Snapshot{})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			st := registry.Get(token, func(s *authstate.Store) {
				s.Initialize(sm.GetString(r.Context(), session.KeyUserID))
			})

			ctx := context.WithValue(r.Context(), ContextKeyStore, st)
			ctx = context.WithValue(ctx, ContextKeySnapshot, st.Snapshot())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetStore retrieves the session's auth state store from the request
// context. Returns nil for sessionless requests.
func GetStore(r *http.Request) *authstate.Store {
	st, ok := r.Context().Value(ContextKeyStore).(*authstate.Store)
	if !ok {
		return nil
	}
	return st
}

// GetSnapshot retrieves the auth snapshot taken when the request entered
// the middleware chain.
func GetSnapshot(r *http.Request) authstate.Snapshot {
	snap, ok := r.Context().Value(ContextKeySnapshot).(authstate.Snapshot)
	if !ok {
		return authstate.Snapshot{}
	}
	return snap
}

// GetProfile returns the hydrated profile for the request, or nil.
func GetProfile(r *http.Request) *model.Profile {
	return GetSnapshot(r).Profile
}

// GetUserID returns the signed-in user id, or empty string.
func GetUserID(r *http.Request) string {
	return GetSnapshot(r).Identity
}

// RequestPath creates middleware that stores the request path in the
// context for the logging handler.
func RequestPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ContextKeyRequestPath, r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestPath retrieves the request path from the context.
func GetRequestPath(ctx context.Context) string {
	path, ok := ctx.Value(ContextKeyRequestPath).(string)
	if !ok {
		return ""
	}
	return path
}
