// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs the daily membership expiry job and housekeeping.
package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/open-assoc/portal-go/internal/store"
)

// Audit entries older than this are purged by housekeeping.
const auditRetention = 90 * 24 * time.Hour

// Scheduler handles scheduled maintenance: counting down membership days,
// deactivating expired memberships, and purging stale tokens and audit rows.
type Scheduler struct {
	db     *sql.DB
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a new scheduler instance.
func New(db *sql.DB, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:     db,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start registers the expiry job on the given cron schedule and starts the
// scheduler.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunExpiry(context.Background()); err != nil {
			s.logger.Error("membership expiry job failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", schedule, "jobs", len(s.cron.Entries()))
	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// RunExpiry performs one expiry pass. Exposed so an operator can trigger it
// outside the schedule.
func (s *Scheduler) RunExpiry(ctx context.Context) error {
	queries := store.New(s.db)
	now := time.Now().UTC()

	decremented, err := queries.DecrementMembershipDays(ctx, now)
	if err != nil {
		return err
	}

	deactivated, err := queries.DeactivateExpiredMemberships(ctx, now)
	if err != nil {
		return err
	}

	if err := queries.DeleteExpiredTokens(ctx, now); err != nil {
		s.logger.Error("token cleanup failed", "error", err)
	}
	if err := queries.DeleteOldAuditEvents(ctx, now.Add(-auditRetention)); err != nil {
		s.logger.Error("audit cleanup failed", "error", err)
	}

	s.logger.Info("membership expiry pass complete",
		"decremented", decremented,
		"deactivated", deactivated,
	)
	return nil
}
