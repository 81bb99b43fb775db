// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"strings"
	"testing"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/store"
)

// commandEvent feeds one management-room message through the router.
func (h *testEngine) commandEvent(t *testing.T, event TextEvent) {
	t.Helper()
	if event.EventID.IsZero() {
		event.EventID = ref.MustParseEventID("$cmd" + t.Name())
	}
	if err := h.engine.HandleText(context.Background(), event); err != nil {
		t.Fatalf("HandleText(%q) failed: %v", event.Body, err)
	}
}

// lastManagementNotice returns the most recent bot message in the
// management room.
func (h *testEngine) lastManagementNotice(t *testing.T) string {
	t.Helper()
	messages := h.session.messagesTo(managementRoom)
	if len(messages) == 0 {
		t.Fatal("no management-room messages")
	}
	return messages[len(messages)-1].Body
}

func mustAddStaff(t *testing.T, h *testEngine, userID ref.UserID) {
	t.Helper()
	if err := h.store.Roster.AddStaff(context.Background(), userID); err != nil {
		t.Fatalf("AddStaff failed: %v", err)
	}
}

func TestCommandAuthorization(t *testing.T) {
	harness := newTestEngine(t)
	intruder := ref.MustParseUserID("@intruder:test")
	mustAddStaff(t, harness, staffUser)

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$unauth1"),
		Sender:  intruder,
		Body:    "!opentickets",
	})
	if !strings.Contains(harness.lastManagementNotice(t), "only staff") {
		t.Errorf("expected authorization rejection, got %q", harness.lastManagementNotice(t))
	}
}

func TestCommandAddStaffBootstrap(t *testing.T) {
	ctx := context.Background()
	harness := newTestEngine(t)

	// An empty roster accepts the first addstaff so an operator can
	// register themselves.
	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$boot1"),
		Sender:  staffUser,
		Body:    "!addstaff " + staffUser.String(),
	})
	isStaff, err := harness.store.Roster.IsStaff(ctx, staffUser)
	if err != nil || !isStaff {
		t.Fatalf("bootstrap addstaff did not register: %v", err)
	}

	// Once the roster is non-empty, outsiders are rejected again.
	intruder := ref.MustParseUserID("@intruder:test")
	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$boot2"),
		Sender:  intruder,
		Body:    "!addstaff " + intruder.String(),
	})
	isStaff, _ = harness.store.Roster.IsStaff(ctx, intruder)
	if isStaff {
		t.Error("non-staff registered themselves on a populated roster")
	}
}

func TestCommandRaise(t *testing.T) {
	ctx := context.Background()
	harness := newTestEngine(t)
	mustAddStaff(t, harness, staffUser)

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$raise1"),
		Sender:  staffUser,
		Body:    "!raise " + endUser.String() + " Billing issue",
	})

	tickets, err := harness.store.Tickets.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected 1 open ticket, got %d", len(tickets))
	}
	if tickets[0].Name != "Billing issue" || tickets[0].UserID != endUser {
		t.Errorf("ticket = %+v", tickets[0])
	}
}

func TestCommandRaiseAsReply(t *testing.T) {
	ctx := context.Background()
	harness := newTestEngine(t)
	mustAddStaff(t, harness, staffUser)
	userRoom := ref.MustParseRoomID("!dm-alice:test")
	seedRoom(harness.tracker, userRoom, false, botUser, endUser)

	// The user's first message relays to the management room.
	harness.commandEvent(t, TextEvent{
		RoomID:  userRoom,
		EventID: ref.MustParseEventID("$usermsg"),
		Sender:  endUser,
		Body:    "my invoice is wrong",
	})
	pair, err := harness.store.EventPairs.Resolve(ctx,
		store.EventRef{RoomID: userRoom, EventID: ref.MustParseEventID("$usermsg")})
	if err != nil {
		t.Fatalf("relayed message not correlated: %v", err)
	}

	// Staff reply "!raise <name>" to the relayed copy.
	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$raisereply"),
		Sender:  staffUser,
		Body:    "!raise Invoice dispute",
		ReplyTo: pair.EventID,
	})

	tickets, err := harness.store.Tickets.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected 1 open ticket, got %d", len(tickets))
	}
	if tickets[0].UserID != endUser {
		t.Errorf("ticket raised for %s, want %s", tickets[0].UserID, endUser)
	}
	if tickets[0].Name != "Invoice dispute" {
		t.Errorf("ticket name = %q", tickets[0].Name)
	}
}

func TestCommandClaimAndClose(t *testing.T) {
	ctx := context.Background()
	harness := newTestEngine(t)
	mustAddStaff(t, harness, staffUser)
	ticket := harness.mustRaise(t, "Billing issue")
	colleague := ref.MustParseUserID("@colleague:test")
	mustAddStaff(t, harness, colleague)

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$claim1"),
		Sender:  colleague,
		Body:    "!claim 1",
	})
	assigned, _ := harness.store.Tickets.AssignedStaff(ctx, ticket.ID)
	if len(assigned) != 2 {
		t.Errorf("assigned staff = %v, want raiser plus colleague", assigned)
	}

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$close1"),
		Sender:  staffUser,
		Body:    "!close #1",
	})
	closed, _ := harness.store.Tickets.Get(ctx, ticket.ID)
	if closed.Status != store.StatusClosed {
		t.Errorf("status = %s, want closed", closed.Status)
	}

	// Rejected transition renders a readable explanation.
	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$close2"),
		Sender:  staffUser,
		Body:    "!close 1",
	})
	if !strings.Contains(harness.lastManagementNotice(t), "already closed") {
		t.Errorf("expected invalid-state explanation, got %q", harness.lastManagementNotice(t))
	}
}

func TestCommandClaimFor(t *testing.T) {
	ctx := context.Background()
	harness := newTestEngine(t)
	mustAddStaff(t, harness, staffUser)
	ticket := harness.mustRaise(t, "Billing issue")
	responder := ref.MustParseUserID("@responder:test")

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$claimfor1"),
		Sender:  staffUser,
		Body:    "!claimfor " + responder.String() + " 1",
	})

	support, _ := harness.store.Tickets.AssignedSupport(ctx, ticket.ID)
	if len(support) != 1 || support[0] != responder {
		t.Errorf("assigned support = %v", support)
	}
	isSupport, _ := harness.store.Roster.IsSupport(ctx, responder)
	if !isSupport {
		t.Error("claimfor should register the responder as support")
	}
}

func TestCommandOpenTickets(t *testing.T) {
	harness := newTestEngine(t)
	mustAddStaff(t, harness, staffUser)

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$open0"),
		Sender:  staffUser,
		Body:    "!opentickets",
	})
	if harness.lastManagementNotice(t) != "No open tickets." {
		t.Errorf("empty list reply = %q", harness.lastManagementNotice(t))
	}

	harness.mustRaise(t, "Billing issue")
	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$open1"),
		Sender:  staffUser,
		Body:    "!opentickets",
	})
	listing := harness.lastManagementNotice(t)
	if !strings.Contains(listing, "Billing issue") || !strings.Contains(listing, endUser.String()) {
		t.Errorf("listing = %q", listing)
	}
}

func TestCommandActiveTicket(t *testing.T) {
	harness := newTestEngine(t)
	mustAddStaff(t, harness, staffUser)
	ticket := harness.mustRaise(t, "Billing issue")

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$active1"),
		Sender:  staffUser,
		Body:    "!activeticket " + endUser.String(),
	})
	reply := harness.lastManagementNotice(t)
	if !strings.Contains(reply, "#1") || !strings.Contains(reply, ticket.Name) {
		t.Errorf("reply = %q", reply)
	}
}

func TestCommandHelp(t *testing.T) {
	harness := newTestEngine(t)
	mustAddStaff(t, harness, staffUser)

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$help1"),
		Sender:  staffUser,
		Body:    "!help",
	})
	if !strings.Contains(harness.lastManagementNotice(t), "!raise") {
		t.Errorf("help output = %q", harness.lastManagementNotice(t))
	}
}

func TestCommandUnknown(t *testing.T) {
	harness := newTestEngine(t)
	mustAddStaff(t, harness, staffUser)

	harness.commandEvent(t, TextEvent{
		RoomID:  managementRoom,
		EventID: ref.MustParseEventID("$unknown1"),
		Sender:  staffUser,
		Body:    "!frobnicate",
	})
	if !strings.Contains(harness.lastManagementNotice(t), "unknown command") {
		t.Errorf("reply = %q", harness.lastManagementNotice(t))
	}
}
