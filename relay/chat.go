// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
	"github.com/bureau-foundation/helpdesk/store"
)

// OpenChat creates an ad-hoc chat with userID, creates its room, and
// invites and claims it for the opening staff member. Chats carry no
// name and delete themselves once closed and vacated.
func (e *Engine) OpenChat(ctx context.Context, staff, userID ref.UserID) (*store.Chat, error) {
	user, err := e.store.Users.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.ActiveTicket != 0 {
		return nil, errorf(KindConflict, "%s has active ticket #%d; close it before opening a chat", userID, user.ActiveTicket)
	}
	if user.ActiveChat != 0 {
		return nil, errorf(KindConflict, "%s already has an active chat", userID)
	}

	chat, err := e.store.Chats.Create(ctx, userID)
	if err != nil {
		return nil, err
	}

	response, err := e.session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Name:         fmt.Sprintf("Chat %d", chat.ID),
		Preset:       "private_chat",
		Invite:       []ref.UserID{staff},
		InitialState: []messaging.StateEvent{encryptionState()},
	})
	if err != nil {
		return nil, errorf(KindProtocol, "creating room for chat %d: %v", chat.ID, err)
	}
	chat.RoomID = response.RoomID

	if err := e.store.Chats.SetRoom(ctx, chat.ID, response.RoomID); err != nil {
		return nil, err
	}
	if err := e.store.Users.SetActiveChat(ctx, userID, chat.ID); err != nil {
		return nil, err
	}
	if _, err := e.store.Chats.AssignStaff(ctx, chat.ID, staff); err != nil {
		return nil, err
	}

	e.announce(ctx, e.management,
		fmt.Sprintf("Chat opened with %s by %s.", userID, staff))
	return chat, nil
}

// ClaimChat assigns a staff member to the chat, inviting them and
// forwarding historical keys. Idempotent.
func (e *Engine) ClaimChat(ctx context.Context, chatID int64, staff ref.UserID) error {
	return e.claimChat(ctx, chatID, staff, false)
}

// ClaimChatFor assigns a support responder to the chat. Idempotent.
func (e *Engine) ClaimChatFor(ctx context.Context, chatID int64, support ref.UserID) error {
	return e.claimChat(ctx, chatID, support, true)
}

func (e *Engine) claimChat(ctx context.Context, chatID int64, assignee ref.UserID, asSupport bool) error {
	chat, err := e.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Status != store.StatusOpen {
		return errorf(KindInvalidState, "chat %d is %s, not open", chatID, chat.Status)
	}

	var inserted bool
	if asSupport {
		inserted, err = e.store.Chats.AssignSupport(ctx, chatID, assignee)
	} else {
		inserted, err = e.store.Chats.AssignStaff(ctx, chatID, assignee)
	}
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if err := e.session.InviteUser(ctx, chat.RoomID, assignee); err != nil {
		return errorf(KindProtocol, "inviting %s to chat %d: %v", assignee, chatID, err)
	}
	e.forwardKeys(ctx, chat.RoomID, []ref.UserID{assignee})
	return nil
}

// CloseChat transitions the chat to closed, clears the owner's
// active-chat pointer, and kicks the assignees. If the room is already
// vacated the chat is deleted immediately; otherwise deletion defers
// until membership changes empty the room.
func (e *Engine) CloseChat(ctx context.Context, chatID int64, force bool) error {
	chat, err := e.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Status == store.StatusDeleted {
		return errorf(KindInvalidState, "chat %d is deleted", chatID)
	}
	if chat.Status != store.StatusOpen && !force {
		return errorf(KindInvalidState, "chat %d is %s, not open", chatID, chat.Status)
	}

	if err := e.store.Chats.SetStatus(ctx, chatID, store.StatusClosed); err != nil {
		return err
	}
	e.chats.Invalidate(chatID)

	if err := e.store.Users.ClearActiveChat(ctx, chat.UserID, chatID); err != nil {
		return err
	}

	e.kickAssignees(ctx, chat.RoomID, e.chatAssignees(ctx, chatID), "chat closed")
	e.announce(ctx, e.management, fmt.Sprintf("Chat %d with %s closed.", chatID, chat.UserID))

	joined, invited := e.tracker.MemberCounts(chat.RoomID)
	if joined <= 1 && invited == 0 {
		return e.deleteChat(ctx, chat)
	}
	return e.store.Chats.SetPendingDeletion(ctx, chatID, true)
}

// DeleteChat vacates a closed chat's room by explicit request. Same
// preconditions as ticket deletion.
func (e *Engine) DeleteChat(ctx context.Context, chatID int64) error {
	chat, err := e.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Status != store.StatusClosed {
		return errorf(KindInvalidState, "chat %d is %s; only closed chats can be deleted", chatID, chat.Status)
	}

	joined, invited := e.tracker.MemberCounts(chat.RoomID)
	if joined > 1 {
		return errorf(KindPrecondition, "chat %d room still has %d joined members", chatID, joined)
	}
	if invited > 0 {
		return errorf(KindPrecondition, "chat %d room still has %d pending invites", chatID, invited)
	}
	return e.deleteChat(ctx, chat)
}

// MaybeDeleteChat finishes a deferred chat deletion: called on
// membership changes in a chat room, it deletes the chat once the room
// holds nobody but the bot. Rooms without a deletion-pending chat are
// ignored.
func (e *Engine) MaybeDeleteChat(ctx context.Context, roomID ref.RoomID) error {
	chat, err := e.store.Chats.ByRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if chat.Status != store.StatusClosed || !chat.PendingDeletion {
		return nil
	}

	joined, invited := e.tracker.MemberCounts(roomID)
	if joined > 1 || invited > 0 {
		return nil
	}
	return e.deleteChat(ctx, chat)
}

// deleteChat vacates the chat's room and marks the record deleted.
func (e *Engine) deleteChat(ctx context.Context, chat *store.Chat) error {
	if err := e.vacateRoom(ctx, chat.RoomID); err != nil {
		return errorf(KindProtocol, "vacating chat %d room: %v", chat.ID, err)
	}
	if err := e.store.Chats.SetPendingDeletion(ctx, chat.ID, false); err != nil {
		return err
	}
	if err := e.store.Chats.SetStatus(ctx, chat.ID, store.StatusDeleted); err != nil {
		return err
	}
	e.chats.Invalidate(chat.ID)
	return nil
}

// UnassignChat removes an assignee from the chat and kicks them from
// its room.
func (e *Engine) UnassignChat(ctx context.Context, chatID int64, userID ref.UserID) error {
	chat, err := e.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := e.store.Chats.Unassign(ctx, chatID, userID); err != nil {
		return err
	}
	if err := e.session.KickUser(ctx, chat.RoomID, userID, "unassigned"); err != nil {
		e.logger.Error("kick after unassign failed",
			"chat", chatID, "user_id", userID, "error", err)
	}
	return nil
}

// chatAssignees returns the combined staff and support assignment
// lists for the chat.
func (e *Engine) chatAssignees(ctx context.Context, chatID int64) []ref.UserID {
	staff, err := e.store.Chats.AssignedStaff(ctx, chatID)
	if err != nil {
		e.logger.Error("assigned staff lookup failed", "chat", chatID, "error", err)
	}
	support, err := e.store.Chats.AssignedSupport(ctx, chatID)
	if err != nil {
		e.logger.Error("assigned support lookup failed", "chat", chatID, "error", err)
	}
	return append(staff, support...)
}
