// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"testing"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/store"
)

func TestOpenChat(t *testing.T) {
	ctx := context.Background()
	harness := newTestEngine(t)

	chat, err := harness.engine.OpenChat(ctx, staffUser, endUser)
	if err != nil {
		t.Fatalf("OpenChat failed: %v", err)
	}
	if chat.Status != store.StatusOpen {
		t.Errorf("status = %s, want open", chat.Status)
	}
	if chat.RoomID.IsZero() {
		t.Fatal("chat should have a room")
	}

	user, _ := harness.store.Users.Get(ctx, endUser)
	if user.ActiveChat != chat.ID {
		t.Errorf("active chat = %d, want %d", user.ActiveChat, chat.ID)
	}

	t.Run("mutually exclusive with tickets", func(t *testing.T) {
		_, err := harness.engine.RaiseTicket(ctx, staffUser, endUser, "Billing issue")
		if !IsKind(err, KindConflict) {
			t.Errorf("raising a ticket over an active chat: expected conflict, got %v", err)
		}
		_, err = harness.engine.OpenChat(ctx, staffUser, endUser)
		if !IsKind(err, KindConflict) {
			t.Errorf("second chat: expected conflict, got %v", err)
		}
	})
}

func TestCloseChatAutoDelete(t *testing.T) {
	ctx := context.Background()
	harness := newTestEngine(t)

	t.Run("empty room deletes immediately", func(t *testing.T) {
		chat, err := harness.engine.OpenChat(ctx, staffUser, endUser)
		if err != nil {
			t.Fatalf("OpenChat failed: %v", err)
		}
		// Only the bot remains in the room at close time.
		seedRoom(harness.tracker, chat.RoomID, true, botUser)

		if err := harness.engine.CloseChat(ctx, chat.ID, false); err != nil {
			t.Fatalf("CloseChat failed: %v", err)
		}

		closed, _ := harness.store.Chats.Get(ctx, chat.ID)
		if closed.Status != store.StatusDeleted {
			t.Errorf("status = %s, want deleted", closed.Status)
		}
		if harness.tracker.Joined(chat.RoomID) {
			t.Error("room should be vacated")
		}
	})

	t.Run("occupied room defers deletion", func(t *testing.T) {
		other := ref.MustParseUserID("@bob:test")
		chat, err := harness.engine.OpenChat(ctx, staffUser, other)
		if err != nil {
			t.Fatalf("OpenChat failed: %v", err)
		}
		seedRoom(harness.tracker, chat.RoomID, true, botUser, staffUser)

		if err := harness.engine.CloseChat(ctx, chat.ID, false); err != nil {
			t.Fatalf("CloseChat failed: %v", err)
		}

		closed, _ := harness.store.Chats.Get(ctx, chat.ID)
		if closed.Status != store.StatusClosed {
			t.Errorf("status = %s, want closed", closed.Status)
		}
		if !closed.PendingDeletion {
			t.Error("chat should be marked for deferred deletion")
		}

		// The staff member leaves; the next membership change
		// completes the deletion.
		seedRoom(harness.tracker, chat.RoomID, true, botUser)
		if err := harness.engine.MaybeDeleteChat(ctx, chat.RoomID); err != nil {
			t.Fatalf("MaybeDeleteChat failed: %v", err)
		}
		deleted, _ := harness.store.Chats.Get(ctx, chat.ID)
		if deleted.Status != store.StatusDeleted {
			t.Errorf("status after vacation = %s, want deleted", deleted.Status)
		}
	})

	t.Run("rooms without a pending chat are ignored", func(t *testing.T) {
		if err := harness.engine.MaybeDeleteChat(ctx, ref.MustParseRoomID("!unrelated:test")); err != nil {
			t.Errorf("MaybeDeleteChat on unrelated room: %v", err)
		}
	})
}

func TestCloseChatClearsPointer(t *testing.T) {
	ctx := context.Background()
	harness := newTestEngine(t)

	chat, err := harness.engine.OpenChat(ctx, staffUser, endUser)
	if err != nil {
		t.Fatalf("OpenChat failed: %v", err)
	}
	seedRoom(harness.tracker, chat.RoomID, true, botUser)

	if err := harness.engine.CloseChat(ctx, chat.ID, false); err != nil {
		t.Fatalf("CloseChat failed: %v", err)
	}
	user, _ := harness.store.Users.Get(ctx, endUser)
	if user.ActiveChat != 0 {
		t.Errorf("active chat pointer = %d, want 0", user.ActiveChat)
	}

	t.Run("user can open a ticket afterwards", func(t *testing.T) {
		if _, err := harness.engine.RaiseTicket(ctx, staffUser, endUser, "Follow-up"); err != nil {
			t.Errorf("RaiseTicket after chat close failed: %v", err)
		}
	})
}
