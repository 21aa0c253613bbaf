// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package authstate tracks the authentication state of one browser session:
// the signed-in identity, its hydrated profile, and a loading flag covering
// the window between the two. All mutation flows through a single consumer
// goroutine so auth events apply in arrival order.
package authstate

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/realtime"
	"github.com/open-assoc/portal-go/internal/store"
)

// EventType classifies an auth event.
type EventType string

// Auth event types.
const (
	EventSignedIn  EventType = "SIGNED_IN"
	EventSignedOut EventType = "SIGNED_OUT"
)

// Event is a change in authentication state delivered to a Store.
type Event struct {
	Type     EventType
	Identity string // user id, set for EventSignedIn
}

// Snapshot is a point-in-time copy of a session's auth state.
type Snapshot struct {
	Identity string // empty when signed out
	Profile  *model.Profile
	Loading  bool
}

// Hydration retry policy: one attempt plus two retries, one second apart.
const (
	hydrateRetries  = 2
	hydrateInterval = time.Second
	queryTimeout    = 5 * time.Second
)

// Store holds the auth state of one browser session. A new Store starts in
// the loading state until Initialize resolves it; this keeps guards from
// redirecting while the session is still being restored.
type Store struct {
	queries *store.Queries
	feed    *realtime.Feed
	logger  *slog.Logger

	mu       sync.Mutex
	identity string
	profile  *model.Profile
	loading  bool
	sub      *realtime.Subscription

	events   chan Event
	closed   bool
	closeMu  sync.Mutex
	consumer sync.WaitGroup
	workers  sync.WaitGroup
}

// NewStore creates a session store and starts its event consumer.
func NewStore(q *store.Queries, feed *realtime.Feed, logger *slog.Logger) *Store {
	s := &Store{
		queries: q,
		feed:    feed,
		logger:  logger,
		loading: true,
		events:  make(chan Event, 32),
	}
	s.consumer.Add(1)
	go s.consume()
	return s
}

// Initialize resolves the initial loading state. An empty identity means no
// session to restore; otherwise hydration for the identity is kicked off.
func (s *Store) Initialize(identity string) {
	if identity == "" {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		return
	}
	s.OnAuthEvent(Event{Type: EventSignedIn, Identity: identity})
}

// OnAuthEvent queues an auth event for the consumer. Events apply strictly
// in the order they arrive. After Close the event is dropped.
func (s *Store) OnAuthEvent(ev Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// SignOut clears the session's auth state. The caller invalidates the
// backend session separately; local state is cleared regardless of whether
// that succeeds.
func (s *Store) SignOut() {
	s.OnAuthEvent(Event{Type: EventSignedOut})
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Identity: s.identity, Loading: s.loading}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	return snap
}

// Close stops the consumer, tears down the profile subscription, and waits
// for in-flight hydration to finish.
func (s *Store) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.closeMu.Unlock()

	s.consumer.Wait()

	s.mu.Lock()
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	s.mu.Unlock()

	s.workers.Wait()
}

func (s *Store) consume() {
	defer s.consumer.Done()
	for ev := range s.events {
		s.apply(ev)
	}
}

func (s *Store) apply(ev Event) {
	switch ev.Type {
	case EventSignedIn:
		s.mu.Lock()
		sameIdentity := s.identity == ev.Identity
		s.identity = ev.Identity
		s.loading = true
		if !sameIdentity {
			if s.sub != nil {
				s.sub.Unsubscribe()
			}
			s.sub = s.feed.Subscribe("profiles", ev.Identity)
			s.workers.Add(1)
			go s.observeProfileChanges(ev.Identity, s.sub)
		}
		s.mu.Unlock()
		s.scheduleHydration(ev.Identity)

	case EventSignedOut:
		s.mu.Lock()
		s.identity = ""
		s.profile = nil
		s.loading = false
		if s.sub != nil {
			s.sub.Unsubscribe()
			s.sub = nil
		}
		s.mu.Unlock()

	default:
		s.logger.Warn("unknown auth event", "type", string(ev.Type))
	}
}

// scheduleHydration fetches the profile for the given identity in the
// background. The identity is captured here; if the store's identity has
// changed by the time the fetch completes, the result is discarded.
func (s *Store) scheduleHydration(identity string) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		profile, err := s.fetchProfile(identity)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.identity != identity {
			return
		}
		s.loading = false
		if err != nil {
			s.profile = nil
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("profile not found after retries", "user_id", identity)
			} else {
				s.logger.Error("profile hydration failed", "user_id", identity, "error", err)
			}
			return
		}
		s.profile = profile
	}()
}

// fetchProfile looks the profile up by id, retrying not-found results. A
// freshly registered account has no provisioned profile for a moment; the
// constant one-second backoff rides out that window.
func (s *Store) fetchProfile(identity string) (*model.Profile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout+3*hydrateInterval)
	defer cancel()

	var profile model.Profile
	backoff := retry.WithMaxRetries(hydrateRetries, retry.NewConstant(hydrateInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		got, err := s.queries.GetProfileByID(ctx, identity)
		if errors.Is(err, sql.ErrNoRows) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		profile = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// observeProfileChanges re-fetches the profile whenever its row changes, so
// a session sees role or membership edits without signing in again.
func (s *Store) observeProfileChanges(identity string, sub *realtime.Subscription) {
	defer s.workers.Done()
	for range sub.C {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		profile, err := s.queries.GetProfileByID(ctx, identity)
		cancel()

		s.mu.Lock()
		if s.identity == identity {
			switch {
			case err == nil:
				p := profile
				s.profile = &p
			case errors.Is(err, sql.ErrNoRows):
				s.profile = nil
			default:
				s.logger.Error("profile refresh failed", "user_id", identity, "error", err)
			}
		}
		s.mu.Unlock()
	}
}
