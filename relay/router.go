// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
	"github.com/bureau-foundation/helpdesk/store"
)

// TextEvent is a parsed m.room.message text event.
type TextEvent struct {
	RoomID  ref.RoomID
	EventID ref.EventID
	Sender  ref.UserID
	Body    string

	// ReplyTo is the replied-to event, zero when the message is not a
	// reply.
	ReplyTo ref.EventID

	// Replaces is the edited event, zero when the message is not an
	// edit. NewBody carries the replacement text.
	Replaces ref.EventID
	NewBody  string
}

// MediaEvent is a parsed media message (m.image, m.file, m.audio,
// m.video). The MXC URI and info map pass through the relay untouched.
type MediaEvent struct {
	RoomID  ref.RoomID
	EventID ref.EventID
	Sender  ref.UserID
	MsgType string
	Body    string
	URL     string
	Info    map[string]any
	ReplyTo ref.EventID
}

// CallEvent is a call-signaling event (m.call.*). Ephemeral: relayed
// without correlation or persistence.
type CallEvent struct {
	RoomID  ref.RoomID
	EventID ref.EventID
	Sender  ref.UserID
	Type    ref.EventType
	Content map[string]any
}

// RedactionEvent is an m.room.redaction event.
type RedactionEvent struct {
	RoomID  ref.RoomID
	EventID ref.EventID
	Sender  ref.UserID
	Redacts ref.EventID
	Reason  string
}

// MemberEvent is a parsed m.room.member state change.
type MemberEvent struct {
	RoomID     ref.RoomID
	EventID    ref.EventID
	Sender     ref.UserID
	Target     ref.UserID
	Membership string
	IsDirect   bool
}

// HandleText routes a text message.
func (e *Engine) HandleText(ctx context.Context, event TextEvent) error {
	if e.dedup.Seen(event.EventID) || event.Sender == e.session.UserID() {
		return nil
	}

	class, err := e.classifier.Classify(ctx, event.RoomID)
	if err != nil {
		return err
	}

	switch class.Role {
	case RoleManagement:
		return e.managementText(ctx, event)
	case RoleLogging:
		return nil
	case RoleTicket:
		return e.sessionText(ctx, event, class.Ticket.Status, class.Ticket.UserID,
			fmt.Sprintf("ticket #%d", class.Ticket.ID), e.isActiveTicket(ctx, class.Ticket))
	case RoleChat:
		return e.sessionText(ctx, event, class.Chat.Status, class.Chat.UserID,
			fmt.Sprintf("chat %d", class.Chat.ID), e.isActiveChat(ctx, class.Chat))
	case RoleUser:
		return e.userText(ctx, event)
	}
	return nil
}

// managementText interprets a management-room message: a staff
// command, or a reply or edit to a previously relayed message.
func (e *Engine) managementText(ctx context.Context, event TextEvent) error {
	if strings.HasPrefix(event.Body, e.prefix) {
		return e.HandleCommand(ctx, event)
	}

	if !event.Replaces.IsZero() {
		return e.relayEdit(ctx, event)
	}

	if !event.ReplyTo.IsZero() {
		counterpart, err := e.store.EventPairs.Resolve(ctx,
			store.EventRef{RoomID: event.RoomID, EventID: event.ReplyTo})
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		content := messaging.NewReply(counterpart.EventID, text(event.Body))
		return e.relayMessage(ctx, relayJob{
			Source:      store.EventRef{RoomID: event.RoomID, EventID: event.EventID},
			Destination: counterpart.RoomID,
			Sender:      event.Sender,
			Content:     content,
			Description: "management reply",
		})
	}

	// Management chatter without a command or reference stays local.
	return nil
}

// sessionText relays a staff message from a ticket or chat room to the
// owning user's communications room. Sender identity is always
// suppressed on this side of the relay.
func (e *Engine) sessionText(ctx context.Context, event TextEvent, status store.Status, owner ref.UserID, label string, active bool) error {
	if status != store.StatusOpen {
		e.announce(ctx, event.RoomID,
			fmt.Sprintf("This %s is %s; messages here are not relayed. Reopen it first.", label, status))
		return nil
	}
	if !active {
		e.announce(ctx, event.RoomID,
			fmt.Sprintf("This %s is no longer the user's active conversation; messages here are not relayed.", label))
		return nil
	}

	user, err := e.store.Users.Get(ctx, owner)
	if err != nil {
		return err
	}
	destination, err := e.communicationsRoom(ctx, user)
	if err != nil {
		return err
	}

	if !event.Replaces.IsZero() {
		return e.relayEdit(ctx, event)
	}

	content := text(event.Body)
	content = e.translateReply(ctx, event.RoomID, event.ReplyTo, destination, content)
	return e.relayMessage(ctx, relayJob{
		Source:      store.EventRef{RoomID: event.RoomID, EventID: event.EventID},
		Destination: destination,
		Sender:      event.Sender,
		Content:     content,
		Description: "staff message to " + label,
	})
}

// userText relays a user's message to their active ticket or chat, or,
// absent both, queues it for backfill and mirrors it to the management
// room.
func (e *Engine) userText(ctx context.Context, event TextEvent) error {
	user, err := e.ensureUserFromRoom(ctx, event.Sender, event.RoomID)
	if err != nil {
		return err
	}

	if !event.Replaces.IsZero() {
		return e.relayEdit(ctx, event)
	}

	destination, relayBody := e.userDestination(ctx, user, event.Body)
	if destination.IsZero() {
		if err := e.store.Incoming.Add(ctx, user.ID, event.RoomID, event.EventID); err != nil {
			return err
		}
		destination = e.management
	}

	content := text(relayBody)
	content = e.translateReply(ctx, event.RoomID, event.ReplyTo, destination, content)
	return e.relayMessage(ctx, relayJob{
		Source:      store.EventRef{RoomID: event.RoomID, EventID: event.EventID},
		Destination: destination,
		Sender:      event.Sender,
		Content:     content,
		Description: "user message",
	})
}

// userDestination resolves where a user's message goes: the active
// ticket room, the active chat room, or nowhere (zero room ID, meaning
// management fallback). The body is prefixed with the sender identity
// when the destination is the management room and anonymization is
// off.
func (e *Engine) userDestination(ctx context.Context, user *store.User, body string) (ref.RoomID, string) {
	if user.ActiveTicket != 0 {
		ticket, err := e.getTicket(ctx, user.ActiveTicket)
		if err == nil && ticket.Status == store.StatusOpen && !ticket.RoomID.IsZero() {
			return ticket.RoomID, body
		}
	}
	if user.ActiveChat != 0 {
		chat, err := e.getChat(ctx, user.ActiveChat)
		if err == nil && chat.Status == store.StatusOpen && !chat.RoomID.IsZero() {
			return chat.RoomID, body
		}
	}
	if !e.anonymiseManagement {
		body = fmt.Sprintf("%s: %s", user.ID, body)
	}
	return ref.RoomID{}, body
}

// HandleMedia routes a media message. The MXC URI is passed through;
// the homeserver hosts the content either way.
func (e *Engine) HandleMedia(ctx context.Context, event MediaEvent) error {
	if e.dedup.Seen(event.EventID) || event.Sender == e.session.UserID() {
		return nil
	}

	class, err := e.classifier.Classify(ctx, event.RoomID)
	if err != nil {
		return err
	}

	content := messaging.MessageContent{
		MsgType: event.MsgType,
		Body:    event.Body,
		URL:     event.URL,
		Info:    event.Info,
	}

	var destination ref.RoomID
	switch class.Role {
	case RoleManagement:
		if event.ReplyTo.IsZero() {
			return nil
		}
		counterpart, err := e.store.EventPairs.Resolve(ctx,
			store.EventRef{RoomID: event.RoomID, EventID: event.ReplyTo})
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		destination = counterpart.RoomID
		content = messaging.NewReply(counterpart.EventID, content)
	case RoleLogging:
		return nil
	case RoleTicket, RoleChat:
		owner := classOwner(class)
		if classStatus(class) != store.StatusOpen {
			e.announce(ctx, event.RoomID, "This conversation is closed; media here is not relayed.")
			return nil
		}
		user, err := e.store.Users.Get(ctx, owner)
		if err != nil {
			return err
		}
		destination, err = e.communicationsRoom(ctx, user)
		if err != nil {
			return err
		}
		content = e.translateReply(ctx, event.RoomID, event.ReplyTo, destination, content)
	case RoleUser:
		user, err := e.ensureUserFromRoom(ctx, event.Sender, event.RoomID)
		if err != nil {
			return err
		}
		destination, _ = e.userDestination(ctx, user, "")
		if destination.IsZero() {
			if err := e.store.Incoming.Add(ctx, user.ID, event.RoomID, event.EventID); err != nil {
				return err
			}
			destination = e.management
		}
		content = e.translateReply(ctx, event.RoomID, event.ReplyTo, destination, content)
	}

	return e.relayMessage(ctx, relayJob{
		Source:      store.EventRef{RoomID: event.RoomID, EventID: event.EventID},
		Destination: destination,
		Sender:      event.Sender,
		Content:     content,
		Description: "media " + event.MsgType,
	})
}

// HandleCall routes call signaling. Call invites surface as a notice
// in the management room; every other signal type is forwarded
// verbatim to the counterpart room of the session. No correlation is
// recorded; call signals are ephemeral.
func (e *Engine) HandleCall(ctx context.Context, event CallEvent) error {
	if e.dedup.Seen(event.EventID) || event.Sender == e.session.UserID() {
		return nil
	}

	class, err := e.classifier.Classify(ctx, event.RoomID)
	if err != nil {
		return err
	}

	if event.Type == "m.call.invite" {
		if class.Role == RoleUser {
			e.announce(ctx, e.management,
				fmt.Sprintf("Incoming call attempt from %s; calls cannot be relayed.", event.Sender))
		}
		return nil
	}

	var destination ref.RoomID
	switch class.Role {
	case RoleTicket, RoleChat:
		user, err := e.store.Users.Get(ctx, classOwner(class))
		if err != nil {
			return err
		}
		if user.CommunicationsRoom.IsZero() {
			return nil
		}
		destination = user.CommunicationsRoom
	case RoleUser:
		user, err := e.ensureUserFromRoom(ctx, event.Sender, event.RoomID)
		if err != nil {
			return err
		}
		destination, _ = e.userDestination(ctx, user, "")
		if destination.IsZero() {
			return nil
		}
	default:
		return nil
	}

	eventType := event.Type
	content := event.Content
	return e.dispatch(ctx, PendingTask{
		Destination: destination,
		Origin:      event.RoomID,
		Sender:      event.Sender,
		Description: "call signal " + eventType.String(),
		Execute: func(ctx context.Context) error {
			_, err := e.session.SendEvent(ctx, destination, eventType, content)
			return err
		},
	})
}

// HandleRedaction mirrors a redaction onto the counterpart of the
// redacted event. Redactions of events predating correlation tracking
// cannot be mirrored and are reported to the logging room.
func (e *Engine) HandleRedaction(ctx context.Context, event RedactionEvent) error {
	if e.dedup.Seen(event.EventID) || event.Sender == e.session.UserID() {
		return nil
	}

	counterpart, err := e.store.EventPairs.Resolve(ctx,
		store.EventRef{RoomID: event.RoomID, EventID: event.Redacts})
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("redaction has no correlated counterpart",
			"room_id", event.RoomID, "event_id", event.Redacts)
		e.reportLoss(ctx, fmt.Sprintf("Redaction of %s in %s could not be mirrored: no correlated counterpart.",
			event.Redacts, event.RoomID))
		return nil
	}
	if err != nil {
		return err
	}

	reason := event.Reason
	return e.dispatch(ctx, PendingTask{
		Destination: counterpart.RoomID,
		Origin:      event.RoomID,
		Sender:      event.Sender,
		Description: "redaction of " + counterpart.EventID.String(),
		Execute: func(ctx context.Context) error {
			_, err := e.session.RedactEvent(ctx, counterpart.RoomID, counterpart.EventID, reason)
			return err
		},
	})
}

// HandleMember processes membership changes: direct-room invites to
// the bot establish a user's communications room, and departures from
// chat rooms can complete a deferred chat deletion.
func (e *Engine) HandleMember(ctx context.Context, event MemberEvent) error {
	if e.dedup.Seen(event.EventID) {
		return nil
	}

	if event.Membership == "invite" && event.Target == e.session.UserID() && event.IsDirect {
		return e.acceptDirectInvite(ctx, event)
	}

	if event.Membership == "leave" || event.Membership == "ban" {
		if err := e.MaybeDeleteChat(ctx, event.RoomID); err != nil {
			e.logger.Error("deferred chat deletion failed",
				"room_id", event.RoomID, "error", err)
		}
	}
	return nil
}

// acceptDirectInvite joins a user's direct room, records it as their
// communications room, greets them, and notifies the management room.
func (e *Engine) acceptDirectInvite(ctx context.Context, event MemberEvent) error {
	if _, err := e.session.JoinRoom(ctx, event.RoomID); err != nil {
		return errorf(KindProtocol, "joining direct room %s: %v", event.RoomID, err)
	}

	user, err := e.store.Users.Ensure(ctx, event.Sender)
	if err != nil {
		return err
	}
	if user.CommunicationsRoom.IsZero() {
		if err := e.store.Users.SetCommunicationsRoom(ctx, event.Sender, event.RoomID); err != nil {
			return err
		}
		if e.welcome != "" {
			e.dispatchWelcome(ctx, event.RoomID)
		}
	}

	e.announce(ctx, e.management, fmt.Sprintf("%s started a conversation.", event.Sender))
	return nil
}

// relayJob is one message relay: send the content to the destination
// and correlate the clone with its source.
type relayJob struct {
	Source      store.EventRef
	Destination ref.RoomID
	Sender      ref.UserID
	Content     messaging.MessageContent
	Description string
}

// relayMessage dispatches the job now or defers it until the
// destination materializes. The event pair is recorded only after a
// successful send.
func (e *Engine) relayMessage(ctx context.Context, job relayJob) error {
	return e.dispatch(ctx, PendingTask{
		Destination: job.Destination,
		Origin:      job.Source.RoomID,
		Sender:      job.Sender,
		Description: job.Description,
		Execute: func(ctx context.Context) error {
			cloneID, err := e.session.SendMessage(ctx, job.Destination, job.Content)
			if err != nil {
				return fmt.Errorf("relay: deliver to %s: %w", job.Destination, err)
			}
			return e.store.EventPairs.Put(ctx, job.Source,
				store.EventRef{RoomID: job.Destination, EventID: cloneID})
		},
	})
}

// relayEdit mirrors an edit onto the counterpart of the edited event.
// Unresolvable edit targets are dropped with a log entry.
func (e *Engine) relayEdit(ctx context.Context, event TextEvent) error {
	counterpart, err := e.store.EventPairs.Resolve(ctx,
		store.EventRef{RoomID: event.RoomID, EventID: event.Replaces})
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("edit has no correlated counterpart",
			"room_id", event.RoomID, "event_id", event.Replaces)
		return nil
	}
	if err != nil {
		return err
	}

	content := messaging.NewReplacement(counterpart.EventID, text(event.NewBody))
	return e.relayMessage(ctx, relayJob{
		Source:      store.EventRef{RoomID: event.RoomID, EventID: event.EventID},
		Destination: counterpart.RoomID,
		Sender:      event.Sender,
		Content:     content,
		Description: "edit of " + counterpart.EventID.String(),
	})
}

// translateReply rewrites a reply reference to point at the replied-to
// event's counterpart in the destination room. References that do not
// resolve into the destination are dropped from the relayed message.
func (e *Engine) translateReply(ctx context.Context, sourceRoom ref.RoomID, replyTo ref.EventID, destination ref.RoomID, content messaging.MessageContent) messaging.MessageContent {
	if replyTo.IsZero() {
		return content
	}
	counterpart, err := e.store.EventPairs.Resolve(ctx,
		store.EventRef{RoomID: sourceRoom, EventID: replyTo})
	if err != nil || counterpart.RoomID != destination {
		return content
	}
	return messaging.NewReply(counterpart.EventID, content)
}

// ensureUserFromRoom creates the user record on first contact and
// learns their communications room from the room they messaged in.
func (e *Engine) ensureUserFromRoom(ctx context.Context, userID ref.UserID, roomID ref.RoomID) (*store.User, error) {
	user, err := e.store.Users.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.CommunicationsRoom.IsZero() {
		if err := e.store.Users.SetCommunicationsRoom(ctx, userID, roomID); err != nil {
			return nil, err
		}
		user.CommunicationsRoom = roomID
	}
	return user, nil
}

// isActiveTicket reports whether the ticket is still the owning user's
// active ticket.
func (e *Engine) isActiveTicket(ctx context.Context, ticket *store.Ticket) bool {
	user, err := e.store.Users.Get(ctx, ticket.UserID)
	return err == nil && user.ActiveTicket == ticket.ID
}

// isActiveChat reports whether the chat is still the owning user's
// active chat.
func (e *Engine) isActiveChat(ctx context.Context, chat *store.Chat) bool {
	user, err := e.store.Users.Get(ctx, chat.UserID)
	return err == nil && user.ActiveChat == chat.ID
}

// classOwner returns the owning user of a ticket or chat
// classification.
func classOwner(class Classification) ref.UserID {
	if class.Ticket != nil {
		return class.Ticket.UserID
	}
	return class.Chat.UserID
}

// classStatus returns the status of a ticket or chat classification.
func classStatus(class Classification) store.Status {
	if class.Ticket != nil {
		return class.Ticket.Status
	}
	return class.Chat.Status
}
