// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/helpdesk/lib/clock"
	"github.com/bureau-foundation/helpdesk/lib/ref"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:  filepath.Join(t.TempDir(), "helpdesk.db"),
		Clock: clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := ref.MustParseUserID("@alice:local")

	t.Run("ensure creates and is idempotent", func(t *testing.T) {
		user, err := store.Users.Ensure(ctx, alice)
		if err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
		if user.ID != alice {
			t.Errorf("unexpected user ID: %s", user.ID)
		}
		if !user.CommunicationsRoom.IsZero() {
			t.Error("new user should have no communications room")
		}

		again, err := store.Users.Ensure(ctx, alice)
		if err != nil {
			t.Fatalf("second Ensure failed: %v", err)
		}
		if again.ID != alice {
			t.Errorf("unexpected user ID on re-ensure: %s", again.ID)
		}
	})

	t.Run("get unknown user", func(t *testing.T) {
		_, err := store.Users.Get(ctx, ref.MustParseUserID("@nobody:local"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("communications room", func(t *testing.T) {
		roomID := ref.MustParseRoomID("!dm:local")
		if err := store.Users.SetCommunicationsRoom(ctx, alice, roomID); err != nil {
			t.Fatalf("SetCommunicationsRoom failed: %v", err)
		}

		user, err := store.Users.Get(ctx, alice)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if user.CommunicationsRoom != roomID {
			t.Errorf("communications room = %s, want %s", user.CommunicationsRoom, roomID)
		}

		byRoom, err := store.Users.ByCommunicationsRoom(ctx, roomID)
		if err != nil {
			t.Fatalf("ByCommunicationsRoom failed: %v", err)
		}
		if byRoom.ID != alice {
			t.Errorf("ByCommunicationsRoom returned %s, want %s", byRoom.ID, alice)
		}
	})

	t.Run("active ticket pointer", func(t *testing.T) {
		if err := store.Users.SetActiveTicket(ctx, alice, 7); err != nil {
			t.Fatalf("SetActiveTicket failed: %v", err)
		}
		user, _ := store.Users.Get(ctx, alice)
		if user.ActiveTicket != 7 {
			t.Errorf("active ticket = %d, want 7", user.ActiveTicket)
		}

		// Clearing against the wrong ticket ID leaves the pointer.
		if err := store.Users.ClearActiveTicket(ctx, alice, 99); err != nil {
			t.Fatalf("ClearActiveTicket failed: %v", err)
		}
		user, _ = store.Users.Get(ctx, alice)
		if user.ActiveTicket != 7 {
			t.Errorf("active ticket = %d after mismatched clear, want 7", user.ActiveTicket)
		}

		if err := store.Users.ClearActiveTicket(ctx, alice, 7); err != nil {
			t.Fatalf("ClearActiveTicket failed: %v", err)
		}
		user, _ = store.Users.Get(ctx, alice)
		if user.ActiveTicket != 0 {
			t.Errorf("active ticket = %d after clear, want 0", user.ActiveTicket)
		}
	})
}

func TestRoster(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	staff := ref.MustParseUserID("@staff:local")
	helper := ref.MustParseUserID("@helper:local")

	if err := store.Roster.AddStaff(ctx, staff); err != nil {
		t.Fatalf("AddStaff failed: %v", err)
	}
	// Repeat add is a no-op.
	if err := store.Roster.AddStaff(ctx, staff); err != nil {
		t.Fatalf("repeated AddStaff failed: %v", err)
	}
	if err := store.Roster.AddSupport(ctx, helper); err != nil {
		t.Fatalf("AddSupport failed: %v", err)
	}

	isStaff, err := store.Roster.IsStaff(ctx, staff)
	if err != nil || !isStaff {
		t.Errorf("IsStaff(%s) = (%v, %v), want (true, nil)", staff, isStaff, err)
	}
	isStaff, _ = store.Roster.IsStaff(ctx, helper)
	if isStaff {
		t.Errorf("support member should not be staff")
	}
	isSupport, _ := store.Roster.IsSupport(ctx, helper)
	if !isSupport {
		t.Errorf("IsSupport(%s) = false, want true", helper)
	}

	list, err := store.Roster.ListStaff(ctx)
	if err != nil {
		t.Fatalf("ListStaff failed: %v", err)
	}
	if len(list) != 1 || list[0] != staff {
		t.Errorf("unexpected staff list: %v", list)
	}
}

func TestTickets(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := ref.MustParseUserID("@alice:local")

	ticket, err := store.Tickets.Create(ctx, alice, "Billing issue")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ticket.ID == 0 {
		t.Fatal("ticket ID should be assigned")
	}
	if ticket.Status != StatusOpen {
		t.Errorf("status = %s, want open", ticket.Status)
	}

	t.Run("room attachment and lookup", func(t *testing.T) {
		roomID := ref.MustParseRoomID("!ticket:local")
		if err := store.Tickets.SetRoom(ctx, ticket.ID, roomID); err != nil {
			t.Fatalf("SetRoom failed: %v", err)
		}
		byRoom, err := store.Tickets.ByRoom(ctx, roomID)
		if err != nil {
			t.Fatalf("ByRoom failed: %v", err)
		}
		if byRoom.ID != ticket.ID {
			t.Errorf("ByRoom returned ticket %d, want %d", byRoom.ID, ticket.ID)
		}
		if byRoom.Name != "Billing issue" {
			t.Errorf("name = %q, want %q", byRoom.Name, "Billing issue")
		}
	})

	t.Run("close records timestamp, reopen clears it", func(t *testing.T) {
		if err := store.Tickets.SetStatus(ctx, ticket.ID, StatusClosed); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		closed, _ := store.Tickets.Get(ctx, ticket.ID)
		if closed.Status != StatusClosed {
			t.Errorf("status = %s, want closed", closed.Status)
		}
		if closed.ClosedAt.IsZero() {
			t.Error("closed_at should be set on close")
		}

		if err := store.Tickets.SetStatus(ctx, ticket.ID, StatusOpen); err != nil {
			t.Fatalf("SetStatus (reopen) failed: %v", err)
		}
		reopened, _ := store.Tickets.Get(ctx, ticket.ID)
		if !reopened.ClosedAt.IsZero() {
			t.Error("closed_at should be cleared on reopen")
		}
	})

	t.Run("assignment is idempotent", func(t *testing.T) {
		staff := ref.MustParseUserID("@staff:local")

		inserted, err := store.Tickets.AssignStaff(ctx, ticket.ID, staff)
		if err != nil {
			t.Fatalf("AssignStaff failed: %v", err)
		}
		if !inserted {
			t.Error("first assignment should insert")
		}

		inserted, err = store.Tickets.AssignStaff(ctx, ticket.ID, staff)
		if err != nil {
			t.Fatalf("second AssignStaff failed: %v", err)
		}
		if inserted {
			t.Error("repeat assignment should be a no-op")
		}

		assigned, err := store.Tickets.AssignedStaff(ctx, ticket.ID)
		if err != nil {
			t.Fatalf("AssignedStaff failed: %v", err)
		}
		if len(assigned) != 1 {
			t.Errorf("expected exactly 1 assignment row, got %d", len(assigned))
		}
	})

	t.Run("unassign removes from both tiers", func(t *testing.T) {
		helper := ref.MustParseUserID("@helper:local")
		if _, err := store.Tickets.AssignSupport(ctx, ticket.ID, helper); err != nil {
			t.Fatalf("AssignSupport failed: %v", err)
		}
		if err := store.Tickets.Unassign(ctx, ticket.ID, helper); err != nil {
			t.Fatalf("Unassign failed: %v", err)
		}
		support, _ := store.Tickets.AssignedSupport(ctx, ticket.ID)
		if len(support) != 0 {
			t.Errorf("expected no support assignments, got %v", support)
		}
	})

	t.Run("list open", func(t *testing.T) {
		open, err := store.Tickets.ListOpen(ctx)
		if err != nil {
			t.Fatalf("ListOpen failed: %v", err)
		}
		if len(open) != 1 || open[0].ID != ticket.ID {
			t.Errorf("unexpected open tickets: %v", open)
		}

		store.Tickets.SetStatus(ctx, ticket.ID, StatusClosed)
		open, _ = store.Tickets.ListOpen(ctx)
		if len(open) != 0 {
			t.Errorf("closed ticket should not be listed as open: %v", open)
		}
	})
}

func TestChats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := ref.MustParseUserID("@alice:local")

	chat, err := store.Chats.Create(ctx, alice)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if chat.Status != StatusOpen {
		t.Errorf("status = %s, want open", chat.Status)
	}

	roomID := ref.MustParseRoomID("!chat:local")
	if err := store.Chats.SetRoom(ctx, chat.ID, roomID); err != nil {
		t.Fatalf("SetRoom failed: %v", err)
	}
	byRoom, err := store.Chats.ByRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("ByRoom failed: %v", err)
	}
	if byRoom.ID != chat.ID {
		t.Errorf("ByRoom returned chat %d, want %d", byRoom.ID, chat.ID)
	}

	t.Run("pending deletion flag", func(t *testing.T) {
		if err := store.Chats.SetPendingDeletion(ctx, chat.ID, true); err != nil {
			t.Fatalf("SetPendingDeletion failed: %v", err)
		}
		marked, _ := store.Chats.Get(ctx, chat.ID)
		if !marked.PendingDeletion {
			t.Error("pending deletion flag should be set")
		}

		if err := store.Chats.SetPendingDeletion(ctx, chat.ID, false); err != nil {
			t.Fatalf("SetPendingDeletion (clear) failed: %v", err)
		}
		cleared, _ := store.Chats.Get(ctx, chat.ID)
		if cleared.PendingDeletion {
			t.Error("pending deletion flag should be cleared")
		}
	})

	t.Run("deleted is terminal state in storage", func(t *testing.T) {
		if err := store.Chats.SetStatus(ctx, chat.ID, StatusDeleted); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		deleted, _ := store.Chats.Get(ctx, chat.ID)
		if deleted.Status != StatusDeleted {
			t.Errorf("status = %s, want deleted", deleted.Status)
		}
	})
}

func TestEventPairs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	source := EventRef{
		RoomID:  ref.MustParseRoomID("!ticket:local"),
		EventID: ref.MustParseEventID("$src1"),
	}
	clone := EventRef{
		RoomID:  ref.MustParseRoomID("!user:local"),
		EventID: ref.MustParseEventID("$clone1"),
	}

	if err := store.EventPairs.Put(ctx, source, clone); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	t.Run("resolve is symmetric", func(t *testing.T) {
		got, err := store.EventPairs.Resolve(ctx, source)
		if err != nil {
			t.Fatalf("Resolve(source) failed: %v", err)
		}
		if got != clone {
			t.Errorf("Resolve(source) = %v, want %v", got, clone)
		}

		got, err = store.EventPairs.Resolve(ctx, clone)
		if err != nil {
			t.Fatalf("Resolve(clone) failed: %v", err)
		}
		if got != source {
			t.Errorf("Resolve(clone) = %v, want %v", got, source)
		}
	})

	t.Run("duplicate put is a no-op", func(t *testing.T) {
		other := EventRef{
			RoomID:  ref.MustParseRoomID("!other:local"),
			EventID: ref.MustParseEventID("$other1"),
		}
		if err := store.EventPairs.Put(ctx, source, other); err != nil {
			t.Fatalf("duplicate Put failed: %v", err)
		}
		// The original pairing survives.
		got, err := store.EventPairs.Resolve(ctx, source)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got != clone {
			t.Errorf("Resolve after duplicate put = %v, want %v", got, clone)
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := store.EventPairs.Resolve(ctx, EventRef{
			RoomID:  ref.MustParseRoomID("!nowhere:local"),
			EventID: ref.MustParseEventID("$missing"),
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("delete for room removes both directions", func(t *testing.T) {
		if err := store.EventPairs.DeleteForRoom(ctx, clone.RoomID); err != nil {
			t.Fatalf("DeleteForRoom failed: %v", err)
		}
		if _, err := store.EventPairs.Resolve(ctx, source); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after room delete, got: %v", err)
		}
	})

	t.Run("delete event for re-pairing", func(t *testing.T) {
		if err := store.EventPairs.Put(ctx, source, clone); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.EventPairs.DeleteEvent(ctx, source); err != nil {
			t.Fatalf("DeleteEvent failed: %v", err)
		}
		if _, err := store.EventPairs.Resolve(ctx, clone); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after event delete, got: %v", err)
		}

		// Re-pair with a fresh clone.
		fresh := EventRef{
			RoomID:  ref.MustParseRoomID("!newticket:local"),
			EventID: ref.MustParseEventID("$fresh1"),
		}
		if err := store.EventPairs.Put(ctx, source, fresh); err != nil {
			t.Fatalf("re-pair Put failed: %v", err)
		}
		got, err := store.EventPairs.Resolve(ctx, source)
		if err != nil {
			t.Fatalf("Resolve after re-pair failed: %v", err)
		}
		if got != fresh {
			t.Errorf("Resolve after re-pair = %v, want %v", got, fresh)
		}
	})
}

func TestIncomingEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := ref.MustParseUserID("@alice:local")
	bob := ref.MustParseUserID("@bob:local")
	roomID := ref.MustParseRoomID("!dm:local")

	for _, eventID := range []string{"$first", "$second", "$third"} {
		if err := store.Incoming.Add(ctx, alice, roomID, ref.MustParseEventID(eventID)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if err := store.Incoming.Add(ctx, bob, roomID, ref.MustParseEventID("$bobs")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	events, err := store.Incoming.TakeForUser(ctx, alice)
	if err != nil {
		t.Fatalf("TakeForUser failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Insertion order preserved.
	for i, want := range []string{"$first", "$second", "$third"} {
		if events[i].EventID.String() != want {
			t.Errorf("event %d = %s, want %s", i, events[i].EventID, want)
		}
	}

	// Taking consumes the queue.
	events, err = store.Incoming.TakeForUser(ctx, alice)
	if err != nil {
		t.Fatalf("second TakeForUser failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected empty queue after take, got %d events", len(events))
	}

	// Bob's queue is untouched.
	events, err = store.Incoming.TakeForUser(ctx, bob)
	if err != nil {
		t.Fatalf("TakeForUser(bob) failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event for bob, got %d", len(events))
	}
}
