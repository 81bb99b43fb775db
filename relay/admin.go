// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/helpdesk/lib/codec"
	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
	"github.com/bureau-foundation/helpdesk/store"
)

// AdminRequest is one CBOR-encoded request on the admin socket. Action
// selects the operation; the remaining fields carry its arguments.
type AdminRequest struct {
	Action string `cbor:"action"`
	Ticket int64  `cbor:"ticket,omitempty"`
	Chat   int64  `cbor:"chat,omitempty"`
	User   string `cbor:"user,omitempty"`
	Limit  int    `cbor:"limit,omitempty"`
	Force  bool   `cbor:"force,omitempty"`
}

// AdminResponse is the CBOR-encoded reply. OK is false on failure,
// with Kind carrying the error category and Error the human-readable
// message.
type AdminResponse struct {
	OK    bool   `cbor:"ok"`
	Kind  string `cbor:"kind,omitempty"`
	Error string `cbor:"error,omitempty"`

	Tickets      []TicketSummary  `cbor:"tickets,omitempty"`
	Messages     []MessageSummary `cbor:"messages,omitempty"`
	AvatarURL    string           `cbor:"avatar_url,omitempty"`
	ActiveTicket int64            `cbor:"active_ticket,omitempty"`
}

// TicketSummary is the wire form of one ticket.
type TicketSummary struct {
	ID     int64  `cbor:"id"`
	UserID string `cbor:"user_id"`
	Name   string `cbor:"name"`
	Status string `cbor:"status"`
	RoomID string `cbor:"room_id,omitempty"`
}

// MessageSummary is the wire form of one relayed room message.
type MessageSummary struct {
	EventID   string `cbor:"event_id"`
	Sender    string `cbor:"sender"`
	Body      string `cbor:"body"`
	Timestamp int64  `cbor:"timestamp"`
}

// AdminServer serves lifecycle operations over a Unix socket, one
// CBOR request/response exchange per connection. The CLI is its only
// intended client; filesystem permissions on the socket are the
// authorization boundary.
type AdminServer struct {
	Engine  *Engine
	Session messaging.Session
	Store   *store.Store
	Logger  *slog.Logger
}

// Serve accepts connections until ctx is cancelled or the listener
// closes.
func (s *AdminServer) Serve(ctx context.Context, listener net.Listener) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: admin accept: %w", err)
		}
		go func() {
			defer conn.Close()
			s.handleConn(ctx, conn, logger)
		}()
	}
}

func (s *AdminServer) handleConn(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	var request AdminRequest
	if err := codec.NewDecoder(conn).Decode(&request); err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Warn("admin request decode failed", "error", err)
		}
		return
	}

	response := s.handle(ctx, request)
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		logger.Warn("admin response encode failed",
			"action", request.Action, "error", err)
	}
}

func (s *AdminServer) handle(ctx context.Context, request AdminRequest) AdminResponse {
	response, err := s.run(ctx, request)
	if err != nil {
		failure := AdminResponse{Error: UserMessage(err)}
		var relayError *Error
		if errors.As(err, &relayError) {
			failure.Kind = string(relayError.Kind)
		}
		return failure
	}
	response.OK = true
	return response
}

func (s *AdminServer) run(ctx context.Context, request AdminRequest) (AdminResponse, error) {
	switch request.Action {
	case "ticket.claim", "ticket.claimfor", "ticket.unassign":
		userID, err := ref.ParseUserID(request.User)
		if err != nil {
			return AdminResponse{}, errorf(KindPrecondition, "invalid user ID: %v", err)
		}
		switch request.Action {
		case "ticket.claim":
			return AdminResponse{}, s.Engine.ClaimTicket(ctx, request.Ticket, userID)
		case "ticket.claimfor":
			return AdminResponse{}, s.Engine.ClaimTicketFor(ctx, request.Ticket, userID)
		default:
			return AdminResponse{}, s.Engine.UnassignTicket(ctx, request.Ticket, userID)
		}
	case "ticket.close":
		return AdminResponse{}, s.Engine.CloseTicket(ctx, request.Ticket, request.Force)
	case "ticket.reopen":
		return AdminResponse{}, s.Engine.ReopenTicket(ctx, request.Ticket)
	case "ticket.delete":
		return AdminResponse{}, s.Engine.DeleteTicket(ctx, request.Ticket)
	case "ticket.messages":
		return s.ticketMessages(ctx, request)
	case "tickets.open":
		return s.openTickets(ctx)
	case "ticket.active":
		return s.activeTicket(ctx, request)
	case "chat.close":
		return AdminResponse{}, s.Engine.CloseChat(ctx, request.Chat, request.Force)
	case "chat.delete":
		return AdminResponse{}, s.Engine.DeleteChat(ctx, request.Chat)
	case "user.avatar":
		return s.userAvatar(ctx, request)
	}
	return AdminResponse{}, errorf(KindNotFound, "unknown action %q", request.Action)
}

func (s *AdminServer) openTickets(ctx context.Context) (AdminResponse, error) {
	tickets, err := s.Store.Tickets.ListOpen(ctx)
	if err != nil {
		return AdminResponse{}, err
	}
	summaries := make([]TicketSummary, 0, len(tickets))
	for _, ticket := range tickets {
		summaries = append(summaries, TicketSummary{
			ID:     ticket.ID,
			UserID: ticket.UserID.String(),
			Name:   ticket.Name,
			Status: string(ticket.Status),
			RoomID: ticket.RoomID.String(),
		})
	}
	return AdminResponse{Tickets: summaries}, nil
}

func (s *AdminServer) activeTicket(ctx context.Context, request AdminRequest) (AdminResponse, error) {
	userID, err := ref.ParseUserID(request.User)
	if err != nil {
		return AdminResponse{}, errorf(KindPrecondition, "invalid user ID: %v", err)
	}
	user, err := s.Store.Users.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return AdminResponse{}, errorf(KindNotFound, "unknown user %s", userID)
	}
	if err != nil {
		return AdminResponse{}, err
	}
	return AdminResponse{ActiveTicket: user.ActiveTicket}, nil
}

func (s *AdminServer) ticketMessages(ctx context.Context, request AdminRequest) (AdminResponse, error) {
	ticket, err := s.Engine.getTicket(ctx, request.Ticket)
	if err != nil {
		return AdminResponse{}, err
	}
	if ticket.RoomID.IsZero() {
		return AdminResponse{}, errorf(KindPrecondition, "ticket #%d has no room", request.Ticket)
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 50
	}
	history, err := s.Session.RoomMessages(ctx, ticket.RoomID, messaging.RoomMessagesOptions{
		Direction: "b",
		Limit:     limit,
	})
	if err != nil {
		return AdminResponse{}, errorf(KindProtocol, "fetching messages for ticket #%d: %v", request.Ticket, err)
	}

	messages := make([]MessageSummary, 0, len(history.Chunk))
	for _, event := range history.Chunk {
		if event.Type != "m.room.message" {
			continue
		}
		body, _ := event.Content["body"].(string)
		messages = append(messages, MessageSummary{
			EventID:   event.EventID.String(),
			Sender:    event.Sender.String(),
			Body:      body,
			Timestamp: event.OriginServerTS,
		})
	}
	return AdminResponse{Messages: messages}, nil
}

func (s *AdminServer) userAvatar(ctx context.Context, request AdminRequest) (AdminResponse, error) {
	userID, err := ref.ParseUserID(request.User)
	if err != nil {
		return AdminResponse{}, errorf(KindPrecondition, "invalid user ID: %v", err)
	}
	avatarURL, err := s.Session.GetAvatarURL(ctx, userID)
	if err != nil {
		return AdminResponse{}, errorf(KindProtocol, "fetching avatar of %s: %v", userID, err)
	}
	return AdminResponse{AvatarURL: avatarURL}, nil
}
