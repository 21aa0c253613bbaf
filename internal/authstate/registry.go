// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package authstate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/open-assoc/portal-go/internal/realtime"
	"github.com/open-assoc/portal-go/internal/store"
)

// Idle stores are swept periodically. A session that outlives the idle
// window gets a fresh store on its next request, re-initialized from the
// persisted session data.
const (
	storeIdleTTL  = 30 * time.Minute
	sweepInterval = 5 * time.Minute
)

type registryEntry struct {
	store    *Store
	lastSeen time.Time
}

// Registry maps session tokens to their auth state stores. One Store exists
// per live browser session; stores are created lazily on first access,
// removed when the session is destroyed, and evicted after sitting idle.
// Eviction covers sessions that end without a logout: a closed browser or
// an expired session cookie never announces itself to the server.
type Registry struct {
	queries *store.Queries
	feed    *realtime.Feed
	logger  *slog.Logger

	mu     sync.Mutex
	stores map[string]*registryEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistry creates an empty registry and starts its sweep loop.
func NewRegistry(q *store.Queries, feed *realtime.Feed, logger *slog.Logger) *Registry {
	r := &Registry{
		queries: q,
		feed:    feed,
		logger:  logger,
		stores:  make(map[string]*registryEntry),
		stopCh:  make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Get returns the store for a session token, creating one if needed. The
// initialize callback runs exactly once for a newly created store, before
// any other caller can observe it.
func (r *Registry) Get(token string, initialize func(*Store)) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.stores[token]
	if !ok {
		e = &registryEntry{store: NewStore(r.queries, r.feed, r.logger)}
		r.stores[token] = e
		if initialize != nil {
			initialize(e.store)
		}
	}
	e.lastSeen = time.Now()
	return e.store
}

// Lookup returns the store for a token without creating one.
func (r *Registry) Lookup(token string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.stores[token]
	if !ok {
		return nil, false
	}
	e.lastSeen = time.Now()
	return e.store, true
}

// Remove closes and discards the store for a token. Called when a session
// is destroyed or its token rotates.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	e, ok := r.stores[token]
	delete(r.stores, token)
	r.mu.Unlock()
	if ok {
		e.store.Close()
	}
}

// Rename moves a store from one token to another, for scs token rotation
// on login. A store already present under the new token is closed.
func (r *Registry) Rename(oldToken, newToken string) {
	r.mu.Lock()
	e, ok := r.stores[oldToken]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.stores, oldToken)
	old, clash := r.stores[newToken]
	e.lastSeen = time.Now()
	r.stores[newToken] = e
	r.mu.Unlock()
	if clash {
		old.store.Close()
	}
}

// Close stops the sweep loop and shuts down every store in the registry.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]*registryEntry)
	r.mu.Unlock()
	for _, e := range stores {
		e.store.Close()
	}
}

func (r *Registry) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.evictIdle(storeIdleTTL); n > 0 {
				r.logger.Debug("evicted idle session stores", "count", n)
			}
		case <-r.stopCh:
			return
		}
	}
}

// evictIdle closes and discards every store not accessed within maxIdle.
func (r *Registry) evictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var victims []*Store
	for token, e := range r.stores {
		if e.lastSeen.Before(cutoff) {
			victims = append(victims, e.store)
			delete(r.stores, token)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.Close()
	}
	return len(victims)
}
