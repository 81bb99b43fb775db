// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
	"github.com/bureau-foundation/helpdesk/store"
)

// RaiseTicket creates a ticket for userID, creates its room, invites
// and claims it for the raising staff member, and replays any messages
// the user sent before the ticket existed.
func (e *Engine) RaiseTicket(ctx context.Context, staff, userID ref.UserID, name string) (*store.Ticket, error) {
	user, err := e.store.Users.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.ActiveChat != 0 {
		return nil, errorf(KindConflict, "%s has an active chat; close it before raising a ticket", userID)
	}
	if user.ActiveTicket != 0 {
		return nil, errorf(KindConflict, "%s already has active ticket #%d", userID, user.ActiveTicket)
	}

	ticket, err := e.store.Tickets.Create(ctx, userID, name)
	if err != nil {
		return nil, err
	}

	response, err := e.session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Name:         fmt.Sprintf("Ticket #%d (%s)", ticket.ID, name),
		Preset:       "private_chat",
		Invite:       []ref.UserID{staff},
		InitialState: []messaging.StateEvent{encryptionState()},
	})
	if err != nil {
		return nil, errorf(KindProtocol, "creating room for ticket #%d: %v", ticket.ID, err)
	}
	ticket.RoomID = response.RoomID

	if err := e.store.Tickets.SetRoom(ctx, ticket.ID, response.RoomID); err != nil {
		return nil, err
	}
	if err := e.store.Users.SetActiveTicket(ctx, userID, ticket.ID); err != nil {
		return nil, err
	}
	if _, err := e.store.Tickets.AssignStaff(ctx, ticket.ID, staff); err != nil {
		return nil, err
	}

	if err := e.backfillTicket(ctx, ticket); err != nil {
		e.logger.Error("ticket backfill failed",
			"ticket", ticket.ID, "room_id", response.RoomID, "error", err)
	}

	e.announce(ctx, e.management,
		fmt.Sprintf("Ticket #%d (%s) raised for %s, claimed by %s.", ticket.ID, name, userID, staff))
	return ticket, nil
}

// backfillTicket replays the user's queued pre-ticket messages into
// the new ticket room. Delivery defers until the room materializes;
// each replayed event is re-paired with its fresh clone.
func (e *Engine) backfillTicket(ctx context.Context, ticket *store.Ticket) error {
	queued, err := e.store.Incoming.TakeForUser(ctx, ticket.UserID)
	if err != nil {
		return err
	}

	for _, incoming := range queued {
		incoming := incoming
		destination := ticket.RoomID
		task := PendingTask{
			Destination: destination,
			Origin:      incoming.RoomID,
			Sender:      incoming.UserID,
			Description: fmt.Sprintf("backfill of %s", incoming.EventID),
			Execute: func(ctx context.Context) error {
				return e.replayIncoming(ctx, destination, incoming)
			},
		}
		if err := e.dispatch(ctx, task); err != nil {
			e.logger.Error("backfill replay failed",
				"room_id", destination,
				"event_id", incoming.EventID,
				"error", err)
		}
	}
	return nil
}

// replayIncoming fetches one queued event from its origin room and
// copies its content into the ticket room, re-pairing the clone.
func (e *Engine) replayIncoming(ctx context.Context, destination ref.RoomID, incoming store.IncomingEvent) error {
	event, err := e.session.GetEvent(ctx, incoming.RoomID, incoming.EventID)
	if err != nil {
		return fmt.Errorf("relay: fetch backfill event %s: %w", incoming.EventID, err)
	}

	body, _ := event.Content["body"].(string)
	if body == "" {
		return nil
	}
	cloneID, err := e.session.SendMessage(ctx, destination, text(body))
	if err != nil {
		return fmt.Errorf("relay: replay %s into %s: %w", incoming.EventID, destination, err)
	}

	source := store.EventRef{RoomID: incoming.RoomID, EventID: incoming.EventID}
	if err := e.store.EventPairs.DeleteEvent(ctx, source); err != nil {
		return err
	}
	return e.store.EventPairs.Put(ctx, source, store.EventRef{RoomID: destination, EventID: cloneID})
}

// ClaimTicket assigns a staff member to the ticket, invites them to
// its room, and forwards the room's historical keys to their devices.
// Claiming an already-claimed ticket is a no-op.
func (e *Engine) ClaimTicket(ctx context.Context, ticketID int64, staff ref.UserID) error {
	return e.claimTicket(ctx, ticketID, staff, false)
}

// ClaimTicketFor assigns a support responder to the ticket on a staff
// member's behalf. Same semantics as ClaimTicket.
func (e *Engine) ClaimTicketFor(ctx context.Context, ticketID int64, support ref.UserID) error {
	return e.claimTicket(ctx, ticketID, support, true)
}

func (e *Engine) claimTicket(ctx context.Context, ticketID int64, assignee ref.UserID, asSupport bool) error {
	ticket, err := e.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status != store.StatusOpen {
		return errorf(KindInvalidState, "ticket #%d is %s, not open", ticketID, ticket.Status)
	}

	var inserted bool
	if asSupport {
		inserted, err = e.store.Tickets.AssignSupport(ctx, ticketID, assignee)
	} else {
		inserted, err = e.store.Tickets.AssignStaff(ctx, ticketID, assignee)
	}
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if err := e.session.InviteUser(ctx, ticket.RoomID, assignee); err != nil {
		return errorf(KindProtocol, "inviting %s to ticket #%d: %v", assignee, ticketID, err)
	}
	e.forwardKeys(ctx, ticket.RoomID, []ref.UserID{assignee})
	return nil
}

// CloseTicket transitions the ticket to closed, clears the owner's
// active-ticket pointer, kicks every assignee from the room, and
// announces the closure. Only legal from open unless force is set.
func (e *Engine) CloseTicket(ctx context.Context, ticketID int64, force bool) error {
	ticket, err := e.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status == store.StatusClosed && !force {
		return errorf(KindInvalidState, "ticket #%d is already closed", ticketID)
	}
	if ticket.Status == store.StatusDeleted {
		return errorf(KindInvalidState, "ticket #%d is deleted", ticketID)
	}
	if ticket.Status != store.StatusOpen && !force {
		return errorf(KindInvalidState, "ticket #%d is %s, not open", ticketID, ticket.Status)
	}

	if err := e.store.Tickets.SetStatus(ctx, ticketID, store.StatusClosed); err != nil {
		return err
	}
	e.tickets.Invalidate(ticketID)

	if err := e.store.Users.ClearActiveTicket(ctx, ticket.UserID, ticketID); err != nil {
		return err
	}

	e.kickAssignees(ctx, ticket.RoomID, e.ticketAssignees(ctx, ticketID), "ticket closed")

	e.announce(ctx, ticket.RoomID, fmt.Sprintf("Ticket #%d closed.", ticketID))
	e.announce(ctx, e.management, fmt.Sprintf("Ticket #%d (%s) closed.", ticketID, ticket.Name))
	return nil
}

// ReopenTicket transitions a closed ticket back to open, restores the
// owner's active-ticket pointer, and re-invites every assignee who
// left, forwarding them fresh historical keys.
func (e *Engine) ReopenTicket(ctx context.Context, ticketID int64) error {
	ticket, err := e.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status != store.StatusClosed {
		return errorf(KindInvalidState, "ticket #%d is %s; only closed tickets can be reopened", ticketID, ticket.Status)
	}

	user, err := e.store.Users.Get(ctx, ticket.UserID)
	if err != nil {
		return err
	}
	if user.ActiveTicket != 0 && user.ActiveTicket != ticketID {
		return errorf(KindConflict, "%s already has active ticket #%d", ticket.UserID, user.ActiveTicket)
	}
	if user.ActiveChat != 0 {
		return errorf(KindConflict, "%s has an active chat; close it before reopening", ticket.UserID)
	}

	if err := e.store.Tickets.SetStatus(ctx, ticketID, store.StatusOpen); err != nil {
		return err
	}
	e.tickets.Invalidate(ticketID)
	if err := e.store.Users.SetActiveTicket(ctx, ticket.UserID, ticketID); err != nil {
		return err
	}

	joined := make(map[ref.UserID]struct{})
	for _, member := range e.tracker.JoinedMembers(ticket.RoomID) {
		joined[member] = struct{}{}
	}
	for _, assignee := range e.ticketAssignees(ctx, ticketID) {
		if _, ok := joined[assignee]; ok {
			continue
		}
		if err := e.session.InviteUser(ctx, ticket.RoomID, assignee); err != nil {
			e.logger.Error("re-invite failed",
				"ticket", ticketID, "user_id", assignee, "error", err)
			continue
		}
		e.forwardKeys(ctx, ticket.RoomID, []ref.UserID{assignee})
	}

	e.announce(ctx, e.management, fmt.Sprintf("Ticket #%d (%s) reopened.", ticketID, ticket.Name))
	return nil
}

// DeleteTicket vacates a closed ticket's room. Rejected while the room
// still holds other joined members or pending invites.
func (e *Engine) DeleteTicket(ctx context.Context, ticketID int64) error {
	ticket, err := e.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status != store.StatusClosed {
		return errorf(KindInvalidState, "ticket #%d is %s; only closed tickets can be deleted", ticketID, ticket.Status)
	}

	joined, invited := e.tracker.MemberCounts(ticket.RoomID)
	if joined > 1 {
		return errorf(KindPrecondition, "ticket #%d room still has %d joined members", ticketID, joined)
	}
	if invited > 0 {
		return errorf(KindPrecondition, "ticket #%d room still has %d pending invites", ticketID, invited)
	}

	if err := e.vacateRoom(ctx, ticket.RoomID); err != nil {
		return errorf(KindProtocol, "vacating ticket #%d room: %v", ticketID, err)
	}
	if err := e.store.Tickets.SetStatus(ctx, ticketID, store.StatusDeleted); err != nil {
		return err
	}
	e.tickets.Invalidate(ticketID)

	e.announce(ctx, e.management, fmt.Sprintf("Ticket #%d (%s) deleted.", ticketID, ticket.Name))
	return nil
}

// UnassignTicket removes an assignee from the ticket and kicks them
// from its room.
func (e *Engine) UnassignTicket(ctx context.Context, ticketID int64, userID ref.UserID) error {
	ticket, err := e.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := e.store.Tickets.Unassign(ctx, ticketID, userID); err != nil {
		return err
	}
	if err := e.session.KickUser(ctx, ticket.RoomID, userID, "unassigned"); err != nil {
		e.logger.Error("kick after unassign failed",
			"ticket", ticketID, "user_id", userID, "error", err)
	}
	return nil
}

// ticketAssignees returns the combined staff and support assignment
// lists, logging lookup failures rather than aborting a close.
func (e *Engine) ticketAssignees(ctx context.Context, ticketID int64) []ref.UserID {
	staff, err := e.store.Tickets.AssignedStaff(ctx, ticketID)
	if err != nil {
		e.logger.Error("assigned staff lookup failed", "ticket", ticketID, "error", err)
	}
	support, err := e.store.Tickets.AssignedSupport(ctx, ticketID)
	if err != nil {
		e.logger.Error("assigned support lookup failed", "ticket", ticketID, "error", err)
	}
	return append(staff, support...)
}

// kickAssignees removes each assignee from the room, isolating
// per-member failures.
func (e *Engine) kickAssignees(ctx context.Context, roomID ref.RoomID, assignees []ref.UserID, reason string) {
	for _, assignee := range assignees {
		if err := e.session.KickUser(ctx, roomID, assignee, reason); err != nil {
			e.logger.Error("kick failed",
				"room_id", roomID, "user_id", assignee, "error", err)
		}
	}
}

// vacateRoom leaves and forgets a room and clears every local trace of
// it: the tracker's view and the event correlations.
func (e *Engine) vacateRoom(ctx context.Context, roomID ref.RoomID) error {
	if err := e.session.LeaveRoom(ctx, roomID); err != nil {
		return err
	}
	if err := e.session.ForgetRoom(ctx, roomID); err != nil {
		return err
	}
	e.tracker.Forget(roomID)
	return e.store.EventPairs.DeleteForRoom(ctx, roomID)
}
