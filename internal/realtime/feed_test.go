// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package realtime

import (
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	sub := f.Subscribe("profiles", "user-1")
	defer sub.Unsubscribe()

	f.Publish(Change{Table: "profiles", Key: "user-1", Op: OpUpdate})

	select {
	case ch := <-sub.C:
		if ch.Op != OpUpdate {
			t.Errorf("Op = %q, want %q", ch.Op, OpUpdate)
		}
	case <-time.After(time.Second):
		t.Fatal("no change received")
	}
}

func TestPublishScoping(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	sub := f.Subscribe("profiles", "user-1")
	defer sub.Unsubscribe()

	// Same table, different key: must not be delivered.
	f.Publish(Change{Table: "profiles", Key: "user-2", Op: OpUpdate})
	// Different table, same key: must not be delivered.
	f.Publish(Change{Table: "messages", Key: "user-1", Op: OpInsert})

	select {
	case ch := <-sub.C:
		t.Fatalf("unexpected change delivered: %+v", ch)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	sub := f.Subscribe("profiles", "user-1")
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if _, ok := <-sub.C; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	f.Publish(Change{Table: "profiles", Key: "user-1", Op: OpDelete})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	sub := f.Subscribe("profiles", "user-1")
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*2; i++ {
			f.Publish(Change{Table: "profiles", Key: "user-1", Op: OpUpdate})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	f := NewFeed()
	sub := f.Subscribe("profiles", "user-1")

	f.Close()

	if _, ok := <-sub.C; ok {
		t.Fatal("channel should be closed after feed Close")
	}

	// Late operations are no-ops.
	f.Publish(Change{Table: "profiles", Key: "user-1", Op: OpUpdate})
	sub.Unsubscribe()
	f.Close()
}
