// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"sync"

	"github.com/bureau-foundation/helpdesk/lib/ref"
)

// RoomTracker maintains a local materialized view of the rooms the bot
// occupies, fed by /sync responses. For each joined room it tracks the
// joined member set, pending invites, and whether encryption is
// enabled. The relay consults this view for delivery readiness checks
// (is the destination room joined yet?) and lifecycle preconditions
// (how many members remain before a room can be deleted?).
//
// RoomTracker is safe for concurrent use: the sync loop applies
// updates while the pending-queue sweep and admin handlers read.
type RoomTracker struct {
	mu    sync.Mutex
	rooms map[ref.RoomID]*trackedRoom
}

type trackedRoom struct {
	joined    map[ref.UserID]struct{}
	invited   map[ref.UserID]struct{}
	encrypted bool
}

// NewRoomTracker returns an empty tracker.
func NewRoomTracker() *RoomTracker {
	return &RoomTracker{
		rooms: make(map[ref.RoomID]*trackedRoom),
	}
}

// Seed populates a room's view from a full member list, typically from
// GetRoomMembers at startup. Replaces any existing view of the room.
func (t *RoomTracker) Seed(roomID ref.RoomID, members []RoomMember, encrypted bool) {
	room := &trackedRoom{
		joined:    make(map[ref.UserID]struct{}),
		invited:   make(map[ref.UserID]struct{}),
		encrypted: encrypted,
	}
	for _, member := range members {
		switch member.Membership {
		case "join":
			room.joined[member.UserID] = struct{}{}
		case "invite":
			room.invited[member.UserID] = struct{}{}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[roomID] = room
}

// Apply folds a /sync response into the tracker. Returns the room IDs
// that newly appeared in the join section — rooms that just became
// available for delivery.
func (t *RoomTracker) Apply(response *SyncResponse) []ref.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var newlyJoined []ref.RoomID
	for roomID, joined := range response.Rooms.Join {
		room, ok := t.rooms[roomID]
		if !ok {
			room = &trackedRoom{
				joined:  make(map[ref.UserID]struct{}),
				invited: make(map[ref.UserID]struct{}),
			}
			t.rooms[roomID] = room
			newlyJoined = append(newlyJoined, roomID)
		}
		for _, event := range joined.State.Events {
			room.applyStateEvent(event)
		}
		for _, event := range joined.Timeline.Events {
			room.applyStateEvent(event)
		}
	}

	for roomID := range response.Rooms.Leave {
		delete(t.rooms, roomID)
	}

	return newlyJoined
}

// applyStateEvent updates membership and encryption from a single
// event. Non-state events are ignored.
func (r *trackedRoom) applyStateEvent(event Event) {
	switch event.Type {
	case "m.room.member":
		if event.StateKey == nil {
			return
		}
		userID, err := ref.ParseUserID(*event.StateKey)
		if err != nil {
			return
		}
		membership, _ := event.Content["membership"].(string)
		delete(r.joined, userID)
		delete(r.invited, userID)
		switch membership {
		case "join":
			r.joined[userID] = struct{}{}
		case "invite":
			r.invited[userID] = struct{}{}
		}
	case "m.room.encryption":
		r.encrypted = true
	}
}

// Joined reports whether the bot's view contains the room (i.e., the
// bot is currently a member).
func (t *RoomTracker) Joined(roomID ref.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rooms[roomID]
	return ok
}

// JoinedMembers returns the users currently joined to the room.
// Returns nil for rooms the tracker does not know.
func (t *RoomTracker) JoinedMembers(roomID ref.RoomID) []ref.UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]ref.UserID, 0, len(room.joined))
	for userID := range room.joined {
		members = append(members, userID)
	}
	return members
}

// InvitedMembers returns the users with pending invites to the room.
func (t *RoomTracker) InvitedMembers(roomID ref.RoomID) []ref.UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]ref.UserID, 0, len(room.invited))
	for userID := range room.invited {
		members = append(members, userID)
	}
	return members
}

// MemberCounts returns the number of joined members and pending
// invites for the room. Both are zero for unknown rooms.
func (t *RoomTracker) MemberCounts(roomID ref.RoomID) (joined, invited int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[roomID]
	if !ok {
		return 0, 0
	}
	return len(room.joined), len(room.invited)
}

// Encrypted reports whether the room has encryption enabled.
func (t *RoomTracker) Encrypted(roomID ref.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	return room.encrypted
}

// Forget drops the tracker's view of a room. Called after the bot
// leaves and forgets a deleted ticket or chat room.
func (t *RoomTracker) Forget(roomID ref.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
}
