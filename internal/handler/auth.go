// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/open-assoc/portal-go/internal/authstate"
	"github.com/open-assoc/portal-go/internal/middleware"
	"github.com/open-assoc/portal-go/internal/render"
	"github.com/open-assoc/portal-go/internal/service"
	"github.com/open-assoc/portal-go/internal/session"
)

// Redirect targets.
const (
	redirectLogin  = "/login"
	redirectMember = "/member"
)

// AuthHandler handles registration, sign-in, and the password reset flow.
type AuthHandler struct {
	membership      *service.MembershipService
	renderer        *render.Renderer
	sessionManager  *scs.SessionManager
	registry        *authstate.Registry
	loginProtection *middleware.LoginProtection
	logger          *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(membership *service.MembershipService, renderer *render.Renderer,
	sm *scs.SessionManager, registry *authstate.Registry,
	lp *middleware.LoginProtection, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		membership:      membership,
		renderer:        renderer,
		sessionManager:  sm,
		registry:        registry,
		loginProtection: lp,
		logger:          logger,
	}
}

// LoginForm renders the login page. Already-authenticated users are sent to
// the member area.
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if middleware.GetUserID(r) != "" {
		http.Redirect(w, r, redirectMember, http.StatusSeeOther)
		return
	}
	if err := h.renderer.Render(w, r, "auth/login", render.TemplateData{Title: "Sign in"}); err != nil {
		logAndInternalError(w, "rendering login page", "error", err)
	}
}

// Login handles the login form submission.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, redirectLogin) {
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		flashError(w, r, h.renderer, redirectLogin, "Email and password are required")
		return
	}

	if h.loginProtection != nil {
		if locked, remaining := h.loginProtection.IsAccountLocked(email); locked {
			flashError(w, r, h.renderer, redirectLogin,
				fmt.Sprintf("Account temporarily locked, try again in %s", formatDuration(remaining)))
			return
		}
	}

	acct, err := h.membership.Authenticate(r.Context(), email, password)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidCredentials) {
			h.logger.Error("login failed", "error", err)
		}
		if h.loginProtection != nil {
			if locked, lockDuration := h.loginProtection.RecordFailedAttempt(email); locked {
				flashError(w, r, h.renderer, redirectLogin,
					fmt.Sprintf("Too many failed attempts, locked for %s", formatDuration(lockDuration)))
				return
			}
		}
		flashError(w, r, h.renderer, redirectLogin, "Invalid email or password")
		return
	}

	if h.loginProtection != nil {
		h.loginProtection.RecordSuccessfulLogin(email)
	}

	// Regenerate session ID to prevent session fixation. The auth state
	// store follows the token to its new name.
	oldToken := h.sessionManager.Token(r.Context())
	if err := h.sessionManager.RenewToken(r.Context()); err != nil {
		logAndInternalError(w, "session renewal error", "error", err)
		return
	}
	newToken := h.sessionManager.Token(r.Context())
	if oldToken != "" && newToken != "" && oldToken != newToken {
		h.registry.Rename(oldToken, newToken)
	}

	h.sessionManager.Put(r.Context(), session.KeyUserID, acct.ID)

	if st := middleware.GetStore(r); st != nil {
		st.OnAuthEvent(authstate.Event{Type: authstate.EventSignedIn, Identity: acct.ID})
	} else if newToken != "" {
		st := h.registry.Get(newToken, nil)
		st.OnAuthEvent(authstate.Event{Type: authstate.EventSignedIn, Identity: acct.ID})
	}

	h.logger.Info("user signed in", "user_id", acct.ID, "ip", getClientIP(r))
	flashSuccess(w, r, h.renderer, redirectMember, "Welcome back, "+acct.FullName)
}

// Logout destroys the session and clears the auth state.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	token := h.sessionManager.Token(r.Context())

	if st := middleware.GetStore(r); st != nil {
		st.SignOut()
	}
	if err := h.sessionManager.Destroy(r.Context()); err != nil {
		h.logger.Error("session destroy error", "error", err)
	}
	if token != "" {
		h.registry.Remove(token)
	}

	h.logger.Info("user signed out", "user_id", userID)
	flashAndRedirect(w, r, h.renderer, redirectLogin, "You have been signed out", "info")
}

// RegisterForm renders the registration page.
func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	if middleware.GetUserID(r) != "" {
		http.Redirect(w, r, redirectMember, http.StatusSeeOther)
		return
	}
	if err := h.renderer.Render(w, r, "auth/register", render.TemplateData{Title: "Register"}); err != nil {
		logAndInternalError(w, "rendering register page", "error", err)
	}
}

// Register handles the registration form submission. The new account is
// signed in immediately; its profile finishes provisioning in the background.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, "/register") {
		return
	}

	arg := service.RegisterParams{
		Email:       strings.TrimSpace(r.FormValue("email")),
		Password:    r.FormValue("password"),
		FullName:    strings.TrimSpace(r.FormValue("full_name")),
		Phone:       strings.TrimSpace(r.FormValue("phone")),
		Institution: strings.TrimSpace(r.FormValue("institution")),
	}
	if arg.Email == "" || arg.FullName == "" || len(arg.Password) < 8 {
		flashError(w, r, h.renderer, "/register", "Name, email, and a password of at least 8 characters are required")
		return
	}

	id, err := h.membership.Register(r.Context(), arg)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			flashError(w, r, h.renderer, "/register", "An account with this email already exists")
			return
		}
		logAndInternalError(w, "registration failed", "error", err)
		return
	}

	if err := h.sessionManager.RenewToken(r.Context()); err != nil {
		logAndInternalError(w, "session renewal error", "error", err)
		return
	}
	h.sessionManager.Put(r.Context(), session.KeyUserID, id)

	if token := h.sessionManager.Token(r.Context()); token != "" {
		st := h.registry.Get(token, nil)
		st.OnAuthEvent(authstate.Event{Type: authstate.EventSignedIn, Identity: id})
	}

	flashSuccess(w, r, h.renderer, redirectMember, "Welcome! Your membership profile is being set up.")
}

// ForgotPasswordForm renders the reset request page.
func (h *AuthHandler) ForgotPasswordForm(w http.ResponseWriter, r *http.Request) {
	if err := h.renderer.Render(w, r, "auth/forgot_password", render.TemplateData{Title: "Reset password"}); err != nil {
		logAndInternalError(w, "rendering forgot password page", "error", err)
	}
}

// ForgotPassword handles the reset request. The response is identical for
// known and unknown addresses.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, "/forgot-password") {
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	token, err := h.membership.RequestPasswordReset(r.Context(), email)
	if err != nil {
		logAndInternalError(w, "password reset request failed", "error", err)
		return
	}
	if token != "" {
		// Mail delivery is not wired up; the link is logged for the
		// operator to relay.
		h.logger.Info("password reset link issued", "email", email,
			"url", "/reset-password?token="+token)
	}

	flashAndRedirect(w, r, h.renderer, redirectLogin,
		"If the address exists, a reset link has been sent", "info")
}

// ResetPasswordForm renders the new password page for a token.
func (h *AuthHandler) ResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		flashError(w, r, h.renderer, redirectLogin, "Invalid reset link")
		return
	}
	data := render.TemplateData{Title: "Choose a new password", Data: map[string]any{"Token": token}}
	if err := h.renderer.Render(w, r, "auth/reset_password", data); err != nil {
		logAndInternalError(w, "rendering reset password page", "error", err)
	}
}

// ResetPassword redeems the token and sets the new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, redirectLogin) {
		return
	}

	token := r.FormValue("token")
	password := r.FormValue("password")
	if len(password) < 8 {
		flashError(w, r, h.renderer, "/reset-password?token="+token, "Password must be at least 8 characters")
		return
	}

	if err := h.membership.ResetPassword(r.Context(), token, password); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			flashError(w, r, h.renderer, redirectLogin, "Reset link is invalid or expired")
			return
		}
		logAndInternalError(w, "password reset failed", "error", err)
		return
	}

	flashSuccess(w, r, h.renderer, redirectLogin, "Password updated, you can sign in now")
}

// formatDuration formats a lockout duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	return fmt.Sprintf("%d hours", int(d.Hours()))
}
