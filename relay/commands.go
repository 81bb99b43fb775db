// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/store"
)

const helpText = `**Helpdesk commands**
- !raise <user> <name...> — raise a ticket (or reply !raise <name...> to a relayed message)
- !claim <ticket> — claim a ticket for yourself
- !claimfor <user> <ticket> — assign a support responder
- !close <ticket> — close an open ticket
- !forceclose <ticket> — close regardless of state
- !reopen <ticket> — reopen a closed ticket
- !delete <ticket> — delete a closed, vacated ticket
- !chat <user> — open an ad-hoc chat
- !addstaff <user> / !addsupport <user>
- !opentickets — list open tickets
- !activeticket <user> — show a user's active ticket
- !setupcommunicationsroom <user> — create a direct room with a user
- !help`

// HandleCommand parses and executes a staff command from the
// management room. Every rejection is rendered back into the room as
// a human-readable notice; nothing is silently swallowed.
func (e *Engine) HandleCommand(ctx context.Context, event TextEvent) error {
	fields := strings.Fields(strings.TrimPrefix(event.Body, e.prefix))
	if len(fields) == 0 {
		return nil
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	if err := e.authorize(ctx, event.Sender, command); err != nil {
		e.renderError(ctx, event.RoomID, err)
		return nil
	}

	reply, err := e.runCommand(ctx, command, args, event)
	if err != nil {
		e.logger.Warn("command rejected",
			"command", command,
			"user_id", event.Sender,
			"error", err)
		e.renderError(ctx, event.RoomID, err)
		return nil
	}
	if reply != "" {
		e.announce(ctx, event.RoomID, reply)
	}
	return nil
}

// authorize checks the sender's staff role. As a bootstrap, addstaff
// is open while the staff roster is empty so the first operator can
// register themselves.
func (e *Engine) authorize(ctx context.Context, sender ref.UserID, command string) error {
	isStaff, err := e.store.Roster.IsStaff(ctx, sender)
	if err != nil {
		return err
	}
	if isStaff {
		return nil
	}
	if command == "addstaff" {
		staff, err := e.store.Roster.ListStaff(ctx)
		if err != nil {
			return err
		}
		if len(staff) == 0 {
			return nil
		}
	}
	return errorf(KindUnauthorized, "only staff may use helpdesk commands")
}

func (e *Engine) runCommand(ctx context.Context, command string, args []string, event TextEvent) (string, error) {
	switch command {
	case "raise":
		return e.commandRaise(ctx, args, event)
	case "claim":
		ticketID, err := parseTicketID(args, 0)
		if err != nil {
			return "", err
		}
		if err := e.ClaimTicket(ctx, ticketID, event.Sender); err != nil {
			return "", err
		}
		return fmt.Sprintf("Ticket #%d claimed by %s.", ticketID, event.Sender), nil
	case "claimfor":
		assignee, err := parseUser(args, 0)
		if err != nil {
			return "", err
		}
		ticketID, err := parseTicketID(args, 1)
		if err != nil {
			return "", err
		}
		if err := e.store.Roster.AddSupport(ctx, assignee); err != nil {
			return "", err
		}
		if err := e.ClaimTicketFor(ctx, ticketID, assignee); err != nil {
			return "", err
		}
		return fmt.Sprintf("Ticket #%d assigned to %s.", ticketID, assignee), nil
	case "close":
		ticketID, err := parseTicketID(args, 0)
		if err != nil {
			return "", err
		}
		return "", e.CloseTicket(ctx, ticketID, false)
	case "forceclose":
		ticketID, err := parseTicketID(args, 0)
		if err != nil {
			return "", err
		}
		return "", e.CloseTicket(ctx, ticketID, true)
	case "reopen":
		ticketID, err := parseTicketID(args, 0)
		if err != nil {
			return "", err
		}
		return "", e.ReopenTicket(ctx, ticketID)
	case "delete":
		ticketID, err := parseTicketID(args, 0)
		if err != nil {
			return "", err
		}
		return "", e.DeleteTicket(ctx, ticketID)
	case "chat":
		userID, err := parseUser(args, 0)
		if err != nil {
			return "", err
		}
		_, err = e.OpenChat(ctx, event.Sender, userID)
		return "", err
	case "addstaff":
		userID, err := parseUser(args, 0)
		if err != nil {
			return "", err
		}
		if err := e.store.Roster.AddStaff(ctx, userID); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s added to staff.", userID), nil
	case "addsupport":
		userID, err := parseUser(args, 0)
		if err != nil {
			return "", err
		}
		if err := e.store.Roster.AddSupport(ctx, userID); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s added to support.", userID), nil
	case "opentickets":
		return e.commandOpenTickets(ctx)
	case "activeticket":
		return e.commandActiveTicket(ctx, args)
	case "setupcommunicationsroom":
		return e.commandSetupCommunicationsRoom(ctx, args)
	case "help":
		return helpText, nil
	}
	return "", errorf(KindNotFound, "unknown command %q; try %shelp", command, e.prefix)
}

// commandRaise raises a ticket. Two forms: "!raise <user> <name...>",
// or "!raise <name...>" as a reply to a relayed user message, in which
// case the target user is the original sender of the referenced event.
func (e *Engine) commandRaise(ctx context.Context, args []string, event TextEvent) (string, error) {
	var userID ref.UserID
	var name string

	if !event.ReplyTo.IsZero() {
		counterpart, err := e.store.EventPairs.Resolve(ctx,
			store.EventRef{RoomID: event.RoomID, EventID: event.ReplyTo})
		if errors.Is(err, store.ErrNotFound) {
			return "", errorf(KindNotFound, "the replied-to message is not a relayed user message")
		}
		if err != nil {
			return "", err
		}
		user, err := e.store.Users.ByCommunicationsRoom(ctx, counterpart.RoomID)
		if errors.Is(err, store.ErrNotFound) {
			return "", errorf(KindNotFound, "no user is associated with the replied-to message")
		}
		if err != nil {
			return "", err
		}
		userID = user.ID
		name = strings.Join(args, " ")
	} else {
		parsed, err := parseUser(args, 0)
		if err != nil {
			return "", err
		}
		userID = parsed
		name = strings.Join(args[1:], " ")
	}

	if name == "" {
		return "", errorf(KindPrecondition, "a ticket needs a name: %sraise <user> <name>", e.prefix)
	}

	_, err := e.RaiseTicket(ctx, event.Sender, userID, name)
	return "", err
}

func (e *Engine) commandOpenTickets(ctx context.Context) (string, error) {
	tickets, err := e.store.Tickets.ListOpen(ctx)
	if err != nil {
		return "", err
	}
	if len(tickets) == 0 {
		return "No open tickets.", nil
	}
	var builder strings.Builder
	builder.WriteString("**Open tickets**\n")
	for _, ticket := range tickets {
		fmt.Fprintf(&builder, "- #%d (%s) for %s\n", ticket.ID, ticket.Name, ticket.UserID)
	}
	return builder.String(), nil
}

func (e *Engine) commandActiveTicket(ctx context.Context, args []string) (string, error) {
	userID, err := parseUser(args, 0)
	if err != nil {
		return "", err
	}
	user, err := e.store.Users.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", errorf(KindNotFound, "unknown user %s", userID)
	}
	if err != nil {
		return "", err
	}
	if user.ActiveTicket == 0 {
		return fmt.Sprintf("%s has no active ticket.", userID), nil
	}
	ticket, err := e.getTicket(ctx, user.ActiveTicket)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s's active ticket is #%d (%s).", userID, ticket.ID, ticket.Name), nil
}

func (e *Engine) commandSetupCommunicationsRoom(ctx context.Context, args []string) (string, error) {
	userID, err := parseUser(args, 0)
	if err != nil {
		return "", err
	}
	user, err := e.store.Users.Ensure(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.CommunicationsRoom.IsZero() {
		return fmt.Sprintf("%s already has a communications room (%s).", userID, user.CommunicationsRoom), nil
	}
	roomID, err := e.communicationsRoom(ctx, user)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Communications room %s created for %s.", roomID, userID), nil
}

// parseTicketID extracts a positive numeric ticket or chat ID from the
// argument list.
func parseTicketID(args []string, index int) (int64, error) {
	if index >= len(args) {
		return 0, errorf(KindPrecondition, "missing ticket number")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[index], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errorf(KindPrecondition, "%q is not a ticket number", args[index])
	}
	return id, nil
}

// parseUser extracts a Matrix user ID from the argument list.
func parseUser(args []string, index int) (ref.UserID, error) {
	if index >= len(args) {
		return ref.UserID{}, errorf(KindPrecondition, "missing user ID")
	}
	userID, err := ref.ParseUserID(args[index])
	if err != nil {
		return ref.UserID{}, errorf(KindPrecondition, "%q is not a user ID: %v", args[index], err)
	}
	return userID, nil
}
