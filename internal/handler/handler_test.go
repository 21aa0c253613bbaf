// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package handler_test

import (
	"io"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/open-assoc/portal-go/internal/authstate"
	"github.com/open-assoc/portal-go/internal/cache"
	"github.com/open-assoc/portal-go/internal/handler"
	"github.com/open-assoc/portal-go/internal/middleware"
	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/realtime"
	"github.com/open-assoc/portal-go/internal/render"
	"github.com/open-assoc/portal-go/internal/service"
	"github.com/open-assoc/portal-go/internal/session"
	"github.com/open-assoc/portal-go/internal/store"
	"github.com/open-assoc/portal-go/internal/testutil"
	"github.com/open-assoc/portal-go/web"
)

// testServer wires the full middleware and routing stack against a temp
// database, mirroring the composition in cmd/portal.
func testServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()

	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)

	logger := testutil.TestLoggerSilent()
	queries := store.New(db)

	sm := session.New(db, true)
	feed := realtime.NewFeed()
	t.Cleanup(feed.Close)
	registry := authstate.NewRegistry(queries, feed, logger)
	t.Cleanup(registry.Close)

	appCache := cache.NewMemoryCache(time.Minute, time.Minute)
	t.Cleanup(func() { _ = appCache.Close() })

	templatesFS, err := fs.Sub(web.Templates, "templates")
	if err != nil {
		t.Fatalf("templates fs: %v", err)
	}
	renderer, err := render.New(render.Config{TemplatesFS: templatesFS, SessionManager: sm, IsDev: true})
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}

	auditService := service.NewAuditService(db, logger)
	messageService := service.NewMessageService(db, logger)
	membershipService := service.NewMembershipService(db, feed, auditService, logger)
	participationService := service.NewParticipationService(db, messageService, auditService, logger)

	authHandler := handler.NewAuthHandler(membershipService, renderer, sm, registry, nil, logger)
	memberHandler := handler.NewMemberHandler(db, membershipService, messageService, renderer, logger)
	eventHandler := handler.NewEventHandler(db, participationService, messageService, renderer, logger)
	messageHandler := handler.NewMessageHandler(db, messageService, participationService, renderer, logger)
	adminHandler := handler.NewAdminHandler(db, membershipService, messageService, appCache, renderer, logger)
	healthHandler := handler.NewHealthHandler(db)

	r := chi.NewRouter()
	r.Use(sm.LoadAndSave)
	r.Use(middleware.AuthState(sm, registry))

	r.Get("/health", healthHandler.Health)
	r.Get("/login", authHandler.LoginForm)
	r.Post("/login", authHandler.Login)
	r.Get("/logout", authHandler.Logout)
	r.Get("/register", authHandler.RegisterForm)
	r.Post("/register", authHandler.Register)
	r.Get("/forgot-password", authHandler.ForgotPasswordForm)
	r.Post("/forgot-password", authHandler.ForgotPassword)
	r.Get("/reset-password", authHandler.ResetPasswordForm)
	r.Post("/reset-password", authHandler.ResetPassword)

	r.Route("/member", func(r chi.Router) {
		r.Use(middleware.Guard(model.RoleMember))
		r.Get("/", memberHandler.Dashboard)
		r.Post("/email", memberHandler.RequestEmailChange)
		r.Get("/apply", memberHandler.ApplyForm)
		r.Post("/apply", memberHandler.Apply)
		r.Get("/events", eventHandler.List)
		r.Get("/events/new", eventHandler.NewForm)
		r.Post("/events/new", eventHandler.Create)
		r.Get("/events/{id}", eventHandler.Show)
		r.Post("/events/{id}/join", eventHandler.Join)
		r.Post("/events/{id}/moderate", eventHandler.Moderate)
		r.Get("/messages", messageHandler.List)
		r.Get("/messages/new", messageHandler.ComposeForm)
		r.Post("/messages/new", messageHandler.Compose)
		r.Get("/messages/{id}", messageHandler.Show)
		r.Post("/messages/{id}/process", messageHandler.ProcessApplication)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Guard(model.RoleAdmin))
		r.Get("/", adminHandler.Dashboard)
		r.Get("/members", adminHandler.Members)
		r.Get("/members/export", adminHandler.ExportMembers)
		r.Get("/audit", adminHandler.Audit)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return srv, &http.Client{Jar: jar}
}

func getBody(t *testing.T, client *http.Client, url string) (int, string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func postForm(t *testing.T, client *http.Client, url string, form url.Values) (int, string) {
	t.Helper()
	resp, err := client.PostForm(url, form)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, string(body)
}

// waitForPage polls a URL until its body contains the marker, giving
// background provisioning and hydration time to finish.
func waitForPage(t *testing.T, client *http.Client, url, marker string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var body string
	for time.Now().Before(deadline) {
		_, body = getBody(t, client, url)
		if strings.Contains(body, marker) {
			return body
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("page %s never contained %q, last body:\n%s", url, marker, body)
	return ""
}

func register(t *testing.T, client *http.Client, base, email, name string) {
	t.Helper()
	code, _ := postForm(t, client, base+"/register", url.Values{
		"email":     {email},
		"password":  {"correct-horse-battery"},
		"full_name": {name},
	})
	if code != http.StatusOK {
		t.Fatalf("register returned %d", code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, client := testServer(t)

	code, body := getBody(t, client, srv.URL+"/health")
	if code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	if !strings.Contains(body, `"ok"`) {
		t.Errorf("health body = %s", body)
	}
}

func TestLoginPageRenders(t *testing.T) {
	srv, client := testServer(t)

	code, body := getBody(t, client, srv.URL+"/login")
	if code != http.StatusOK {
		t.Fatalf("login page = %d", code)
	}
	if !strings.Contains(body, "Sign in") {
		t.Errorf("login page missing form")
	}
}

func TestMemberAreaRequiresLogin(t *testing.T) {
	srv, _ := testServer(t)

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/member")
	if err != nil {
		t.Fatalf("GET /member: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login" {
		t.Errorf("redirect location = %q, want /login", loc)
	}
}

func TestRegisterAndSignOut(t *testing.T) {
	srv, client := testServer(t)

	register(t, client, srv.URL, "alice@example.com", "Alice Zhang")

	// The profile page settles once background provisioning and the
	// hydration retry finish.
	body := waitForPage(t, client, srv.URL+"/member", "Alice Zhang")
	if !strings.Contains(body, "pending") {
		t.Errorf("fresh profile should show pending membership")
	}

	code, body := getBody(t, client, srv.URL+"/logout")
	if code != http.StatusOK || !strings.Contains(body, "Sign in") {
		t.Errorf("logout should land on login page, got %d", code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, client := testServer(t)

	register(t, client, srv.URL, "bob@example.com", "Bob Li")
	_, _ = getBody(t, client, srv.URL+"/logout")

	_, body := postForm(t, client, srv.URL+"/login", url.Values{
		"email":    {"bob@example.com"},
		"password": {"not-the-password"},
	})
	if !strings.Contains(body, "Invalid email or password") {
		t.Errorf("wrong password should flash an error")
	}
}

func TestLoginRestoresSession(t *testing.T) {
	srv, client := testServer(t)

	register(t, client, srv.URL, "carol@example.com", "Carol Wu")
	waitForPage(t, client, srv.URL+"/member", "Carol Wu")
	_, _ = getBody(t, client, srv.URL+"/logout")

	_, body := postForm(t, client, srv.URL+"/login", url.Values{
		"email":    {"carol@example.com"},
		"password": {"correct-horse-battery"},
	})
	if !strings.Contains(body, "Welcome back") {
		t.Errorf("login should greet the member")
	}
	waitForPage(t, client, srv.URL+"/member", "Carol Wu")
}

func TestAdminAreaBlocksMembers(t *testing.T) {
	srv, client := testServer(t)

	register(t, client, srv.URL, "dave@example.com", "Dave Park")
	waitForPage(t, client, srv.URL+"/member", "Dave Park")

	noRedirect := &http.Client{Jar: client.Jar, CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := noRedirect.Get(srv.URL + "/admin")
	if err != nil {
		t.Fatalf("GET /admin: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/member" {
		t.Errorf("redirect location = %q, want /member", loc)
	}
}

func TestEventJoinFlow(t *testing.T) {
	srv, client := testServer(t)

	register(t, client, srv.URL, "erin@example.com", "Erin Gao")
	waitForPage(t, client, srv.URL+"/member", "Erin Gao")

	when := time.Now().Add(48 * time.Hour).Format("2006-01-02T15:04")
	code, body := postForm(t, client, srv.URL+"/member/events/new", url.Values{
		"title":            {"Autumn Hike"},
		"description":      {"A walk in the hills."},
		"location":         {"North Trailhead"},
		"event_time":       {when},
		"max_participants": {"10"},
	})
	if code != http.StatusOK || !strings.Contains(body, "Autumn Hike") {
		t.Fatalf("event creation failed: %d", code)
	}

	// Second member joins the event.
	jar, _ := cookiejar.New(nil)
	joiner := &http.Client{Jar: jar}
	register(t, joiner, srv.URL, "frank@example.com", "Frank Ma")
	waitForPage(t, joiner, srv.URL+"/member", "Frank Ma")

	_, body = postForm(t, joiner, srv.URL+"/member/events/1/join", url.Values{})
	if !strings.Contains(body, "Join request sent") {
		t.Fatalf("join failed:\n%s", body)
	}

	// Duplicate join is rejected.
	_, body = postForm(t, joiner, srv.URL+"/member/events/1/join", url.Values{})
	if !strings.Contains(body, "already requested") {
		t.Errorf("duplicate join should be rejected")
	}

	// The creator got the application message.
	_, body = getBody(t, client, srv.URL+"/member/messages")
	if !strings.Contains(body, "活动申请") {
		t.Errorf("creator inbox missing application message:\n%s", body)
	}

	// The creator approves straight from the message.
	_, body = postForm(t, client, srv.URL+"/member/messages/1/process", url.Values{
		"decision": {"approve"},
	})
	if !strings.Contains(body, "Decision recorded") {
		t.Fatalf("processing from inbox failed:\n%s", body)
	}

	// Deciding twice is rejected.
	_, body = postForm(t, client, srv.URL+"/member/messages/1/process", url.Values{
		"decision": {"approve"},
	})
	if !strings.Contains(body, "already been decided") {
		t.Errorf("second decision should be rejected:\n%s", body)
	}

	// The applicant got the result message.
	_, body = getBody(t, joiner, srv.URL+"/member/messages")
	if !strings.Contains(body, "活动申请结果") {
		t.Errorf("applicant inbox missing result message:\n%s", body)
	}
}

func TestComposeMessage(t *testing.T) {
	srv, client := testServer(t)

	register(t, client, srv.URL, "grace@example.com", "Grace Tan")
	waitForPage(t, client, srv.URL+"/member", "Grace Tan")

	jar, _ := cookiejar.New(nil)
	recipient := &http.Client{Jar: jar}
	register(t, recipient, srv.URL, "hugo@example.com", "Hugo Lin")
	waitForPage(t, recipient, srv.URL+"/member", "Hugo Lin")

	_, body := postForm(t, client, srv.URL+"/member/messages/new", url.Values{
		"to":      {"nobody@example.com"},
		"subject": {"Hello"},
		"content": {"Are you coming to the meetup?"},
	})
	if !strings.Contains(body, "No member with that email") {
		t.Errorf("unknown recipient should flash an error:\n%s", body)
	}

	_, body = postForm(t, client, srv.URL+"/member/messages/new", url.Values{
		"to":      {"hugo@example.com"},
		"subject": {"Hello"},
		"content": {"Are you coming to the meetup?"},
	})
	if !strings.Contains(body, "Message sent") {
		t.Fatalf("compose failed:\n%s", body)
	}

	_, body = getBody(t, recipient, srv.URL+"/member/messages")
	if !strings.Contains(body, "Hello") {
		t.Errorf("recipient inbox missing message:\n%s", body)
	}
}

func TestMemberExport(t *testing.T) {
	srv, client := testServer(t)

	register(t, client, srv.URL, "iris@example.com", "Iris Vo")
	waitForPage(t, client, srv.URL+"/member", "Iris Vo")

	resp, err := client.Get(srv.URL + "/admin/members/export")
	if err != nil {
		t.Fatalf("GET export: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// A plain member is bounced out of the admin area.
	if resp.Request.URL.Path != "/member" {
		t.Errorf("member should be redirected away from export, landed on %s", resp.Request.URL.Path)
	}
}
