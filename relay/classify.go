// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/store"
)

// RoomRole is the classification of the room an event arrived in. The
// role determines which routing handler processes the event.
type RoomRole int

const (
	// RoleManagement: the staff management room.
	RoleManagement RoomRole = iota
	// RoleLogging: the operational diagnostics room.
	RoleLogging
	// RoleTicket: a dedicated ticket room.
	RoleTicket
	// RoleChat: a dedicated ad-hoc chat room.
	RoleChat
	// RoleUser: a direct room with an external user; every room not
	// otherwise classified.
	RoleUser
)

func (r RoomRole) String() string {
	switch r {
	case RoleManagement:
		return "management"
	case RoleLogging:
		return "logging"
	case RoleTicket:
		return "ticket"
	case RoleChat:
		return "chat"
	case RoleUser:
		return "user"
	}
	return fmt.Sprintf("RoomRole(%d)", int(r))
}

// Classification is the result of classifying a room: its role plus
// the matched entity for ticket and chat rooms.
type Classification struct {
	Role   RoomRole
	Ticket *store.Ticket
	Chat   *store.Chat
}

// Classifier resolves a room ID to its role. Resolution order: the
// configured management room, the configured logging room, the ticket
// store, the chat store, then user room as the default. Pure lookup
// over persisted state; safe to call repeatedly per event.
type Classifier struct {
	Management ref.RoomID
	Logging    ref.RoomID
	Tickets    *store.Tickets
	Chats      *store.Chats
}

// Classify returns the room's role and, for ticket and chat rooms,
// the matched record.
func (c *Classifier) Classify(ctx context.Context, roomID ref.RoomID) (Classification, error) {
	if roomID == c.Management {
		return Classification{Role: RoleManagement}, nil
	}
	if !c.Logging.IsZero() && roomID == c.Logging {
		return Classification{Role: RoleLogging}, nil
	}

	ticket, err := c.Tickets.ByRoom(ctx, roomID)
	if err == nil {
		return Classification{Role: RoleTicket, Ticket: ticket}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Classification{}, fmt.Errorf("relay: classify %s: %w", roomID, err)
	}

	chat, err := c.Chats.ByRoom(ctx, roomID)
	if err == nil {
		return Classification{Role: RoleChat, Chat: chat}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Classification{}, fmt.Errorf("relay: classify %s: %w", roomID, err)
	}

	return Classification{Role: RoleUser}, nil
}
