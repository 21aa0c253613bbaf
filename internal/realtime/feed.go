// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package realtime implements an in-process change feed. Writers publish
// row-change notifications after committing; subscribers receive them on a
// buffered channel scoped to one table and key.
package realtime

import (
	"sync"
)

// Change describes a committed row change.
type Change struct {
	Table string
	Key   string
	Op    string // "insert", "update", "delete"
}

// Change operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

const subscriptionBuffer = 16

// Feed fans out row-change notifications to interested subscribers.
// The zero value is not usable; call NewFeed.
type Feed struct {
	mu     sync.RWMutex
	subs   map[subKey]map[*Subscription]struct{}
	closed bool
}

type subKey struct {
	table string
	key   string
}

// Subscription is one listener on a (table, key) pair. Events arrive on C.
// If the subscriber falls behind the buffer, notifications are dropped; the
// feed carries wake-ups, not state, so a reader re-fetches on receipt.
type Subscription struct {
	C    <-chan Change
	c    chan Change
	feed *Feed
	key  subKey
	once sync.Once
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[subKey]map[*Subscription]struct{})}
}

// Subscribe registers a listener for changes to one row. The caller must
// call Unsubscribe when done or the subscription leaks.
func (f *Feed) Subscribe(table, key string) *Subscription {
	c := make(chan Change, subscriptionBuffer)
	sub := &Subscription{C: c, c: c, feed: f, key: subKey{table, key}}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(c)
		return sub
	}
	set, ok := f.subs[sub.key]
	if !ok {
		set = make(map[*Subscription]struct{})
		f.subs[sub.key] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the listener and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		defer s.feed.mu.Unlock()
		if set, ok := s.feed.subs[s.key]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.feed.subs, s.key)
			}
		}
		if !s.feed.closed {
			close(s.c)
		}
	})
}

// Publish delivers a change to every subscriber of its (table, key) pair.
// Never blocks: slow subscribers miss the notification.
func (f *Feed) Publish(ch Change) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for sub := range f.subs[subKey{ch.Table, ch.Key}] {
		select {
		case sub.c <- ch:
		default:
		}
	}
}

// Close shuts the feed down and closes all subscriber channels.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, set := range f.subs {
		for sub := range set {
			close(sub.c)
		}
	}
	f.subs = make(map[subKey]map[*Subscription]struct{})
}
