// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Command portal runs the association membership portal.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/open-assoc/portal-go/internal/auth"
	"github.com/open-assoc/portal-go/internal/authstate"
	"github.com/open-assoc/portal-go/internal/cache"
	"github.com/open-assoc/portal-go/internal/config"
	"github.com/open-assoc/portal-go/internal/handler"
	"github.com/open-assoc/portal-go/internal/logging"
	"github.com/open-assoc/portal-go/internal/middleware"
	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/realtime"
	"github.com/open-assoc/portal-go/internal/render"
	"github.com/open-assoc/portal-go/internal/scheduler"
	"github.com/open-assoc/portal-go/internal/service"
	"github.com/open-assoc/portal-go/internal/session"
	"github.com/open-assoc/portal-go/internal/store"
	"github.com/open-assoc/portal-go/web"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Open Association Portal\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PORTAL_SESSION_SECRET   Session encryption key (required, min 32 bytes)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PORTAL_DB_PATH          SQLite database path (default: ./data/portal.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PORTAL_SERVER_PORT      Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PORTAL_ENV              Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PORTAL_REDIS_URL        Redis URL for distributed caching (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PORTAL_EXPIRY_SCHEDULE  Cron spec for the membership expiry job (default: 0 3 * * *)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PORTAL_DO_SEED          Seed the initial admin account (default: false)\n")
	}

	flag.Parse()

	if *showVersion {
		_, _ = fmt.Printf("portal %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present (development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	slog.Info("running database migrations")
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready")

	// Upgrade logger to persist WARN and ERROR records into the audit log
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger = slog.New(logging.NewAuditLogHandler(textHandler, db))
	slog.SetDefault(logger)
	slog.Info("audit log integration enabled", "min_level", "warn")

	ctx := context.Background()
	queries := store.New(db)

	if cfg.DoSeed {
		if cfg.AdminPassword == "" {
			return errors.New("PORTAL_ADMIN_PASSWORD is required when PORTAL_DO_SEED is set")
		}
		hash, err := auth.HashPassword(cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("hashing admin password: %w", err)
		}
		if err := store.SeedAdmin(ctx, queries, cfg.AdminEmail, hash, logger); err != nil {
			return fmt.Errorf("seeding admin account: %w", err)
		}
	}

	sessionManager := session.New(db, cfg.IsDevelopment())
	slog.Info("session manager initialized")

	// Realtime feed and per-session auth state
	feed := realtime.NewFeed()
	defer feed.Close()

	registry := authstate.NewRegistry(queries, feed, logger)
	defer registry.Close()

	// Cache for the admin member directory
	cacheConfig := cache.Config{
		Backend:         "memory",
		RedisURL:        cfg.RedisURL,
		Prefix:          cfg.CachePrefix,
		DefaultTTL:      time.Duration(cfg.CacheTTL) * time.Second,
		CleanupInterval: time.Minute,
	}
	if cfg.UseRedisCache() {
		cacheConfig.Backend = "redis"
	}
	appCache, err := cache.New(cacheConfig)
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}
	defer func() { _ = appCache.Close() }()
	slog.Info("cache initialized", "backend", cacheConfig.Backend)

	templatesFS, err := fs.Sub(web.Templates, "templates")
	if err != nil {
		return fmt.Errorf("getting templates fs: %w", err)
	}
	renderer, err := render.New(render.Config{
		TemplatesFS:    templatesFS,
		SessionManager: sessionManager,
		IsDev:          cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("initializing renderer: %w", err)
	}
	slog.Info("template renderer initialized")

	// Services
	auditService := service.NewAuditService(db, logger)
	messageService := service.NewMessageService(db, logger)
	membershipService := service.NewMembershipService(db, feed, auditService, logger)
	participationService := service.NewParticipationService(db, messageService, auditService, logger)

	// Daily expiry job
	sched := scheduler.New(db, logger)
	if err := sched.Start(cfg.ExpirySchedule); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	loginProtection := middleware.NewLoginProtection(middleware.DefaultLoginProtectionConfig())

	// Handlers
	authHandler := handler.NewAuthHandler(membershipService, renderer, sessionManager, registry, loginProtection, logger)
	memberHandler := handler.NewMemberHandler(db, membershipService, messageService, renderer, logger)
	eventHandler := handler.NewEventHandler(db, participationService, messageService, renderer, logger)
	messageHandler := handler.NewMessageHandler(db, messageService, participationService, renderer, logger)
	adminHandler := handler.NewAdminHandler(db, membershipService, messageService, appCache, renderer, logger)
	healthHandler := handler.NewHealthHandler(db)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(chimw.GetHead)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.RequestPath)
	r.Use(sessionManager.LoadAndSave)

	csrfMiddleware := middleware.CSRF(middleware.DefaultCSRFConfig([]byte(cfg.SessionSecret), cfg.IsDevelopment()))
	r.Use(csrfMiddleware)
	r.Use(middleware.AuthState(sessionManager, registry))

	// Public routes
	r.Get("/health", healthHandler.Health)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		if middleware.GetUserID(req) != "" {
			http.Redirect(w, req, "/member", http.StatusSeeOther)
			return
		}
		http.Redirect(w, req, "/login", http.StatusSeeOther)
	})

	r.Group(func(r chi.Router) {
		r.Use(loginProtection.Middleware())
		r.Get("/login", authHandler.LoginForm)
		r.Post("/login", authHandler.Login)
	})
	r.Get("/logout", authHandler.Logout)
	r.Get("/register", authHandler.RegisterForm)
	r.Post("/register", authHandler.Register)
	r.Get("/forgot-password", authHandler.ForgotPasswordForm)
	r.Post("/forgot-password", authHandler.ForgotPassword)
	r.Get("/reset-password", authHandler.ResetPasswordForm)
	r.Post("/reset-password", authHandler.ResetPassword)

	// Member area
	r.Route("/member", func(r chi.Router) {
		r.Use(middleware.Guard(model.RoleMember))

		r.Get("/", memberHandler.Dashboard)
		r.Post("/email", memberHandler.RequestEmailChange)
		r.Get("/confirm-email", memberHandler.ConfirmEmailChange)
		r.Get("/apply", memberHandler.ApplyForm)
		r.Post("/apply", memberHandler.Apply)

		r.Get("/events", eventHandler.List)
		r.Get("/events/new", eventHandler.NewForm)
		r.Post("/events/new", eventHandler.Create)
		r.Get("/events/{id}", eventHandler.Show)
		r.Get("/events/{id}/edit", eventHandler.EditForm)
		r.Post("/events/{id}/edit", eventHandler.Edit)
		r.Post("/events/{id}/delete", eventHandler.Delete)
		r.Post("/events/{id}/join", eventHandler.Join)
		r.Post("/events/{id}/moderate", eventHandler.Moderate)

		r.Get("/messages", messageHandler.List)
		r.Get("/messages/new", messageHandler.ComposeForm)
		r.Post("/messages/new", messageHandler.Compose)
		r.Get("/messages/{id}", messageHandler.Show)
		r.Post("/messages/{id}/process", messageHandler.ProcessApplication)
	})

	// Admin area
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Guard(model.RoleAdmin))

		r.Get("/", adminHandler.Dashboard)
		r.Get("/members", adminHandler.Members)
		r.Get("/members/export", adminHandler.ExportMembers)
		r.Get("/members/{id}", adminHandler.MemberEditForm)
		r.Post("/members/{id}", adminHandler.MemberEdit)
		r.Get("/applications", adminHandler.Applications)
		r.Post("/applications/{id}", adminHandler.DecideApplication)
		r.Get("/audit", adminHandler.Audit)
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
