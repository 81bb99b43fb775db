// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"testing"

	"github.com/bureau-foundation/helpdesk/lib/ref"
)

func memberEvent(userID, membership string) Event {
	stateKey := userID
	return Event{
		Type:     "m.room.member",
		StateKey: &stateKey,
		Sender:   ref.MustParseUserID(userID),
		Content:  map[string]any{"membership": membership},
	}
}

func TestRoomTrackerSeed(t *testing.T) {
	tracker := NewRoomTracker()
	roomID := ref.MustParseRoomID("!room1:local")

	tracker.Seed(roomID, []RoomMember{
		{UserID: ref.MustParseUserID("@alice:local"), Membership: "join"},
		{UserID: ref.MustParseUserID("@bob:local"), Membership: "invite"},
		{UserID: ref.MustParseUserID("@carol:local"), Membership: "leave"},
	}, true)

	if !tracker.Joined(roomID) {
		t.Error("expected room to be joined after seed")
	}
	joined, invited := tracker.MemberCounts(roomID)
	if joined != 1 || invited != 1 {
		t.Errorf("MemberCounts = (%d, %d), want (1, 1)", joined, invited)
	}
	if !tracker.Encrypted(roomID) {
		t.Error("expected room to be encrypted")
	}

	members := tracker.JoinedMembers(roomID)
	if len(members) != 1 || members[0].String() != "@alice:local" {
		t.Errorf("unexpected joined members: %v", members)
	}
	pending := tracker.InvitedMembers(roomID)
	if len(pending) != 1 || pending[0].String() != "@bob:local" {
		t.Errorf("unexpected invited members: %v", pending)
	}
}

func TestRoomTrackerApply(t *testing.T) {
	t.Run("newly joined room", func(t *testing.T) {
		tracker := NewRoomTracker()
		roomID := ref.MustParseRoomID("!new:local")

		newlyJoined := tracker.Apply(&SyncResponse{
			Rooms: RoomsSection{
				Join: map[ref.RoomID]JoinedRoom{
					roomID: {
						State: StateSection{Events: []Event{
							memberEvent("@helpdesk:local", "join"),
							memberEvent("@alice:local", "join"),
						}},
					},
				},
			},
		})

		if len(newlyJoined) != 1 || newlyJoined[0] != roomID {
			t.Fatalf("unexpected newly joined rooms: %v", newlyJoined)
		}
		joined, _ := tracker.MemberCounts(roomID)
		if joined != 2 {
			t.Errorf("joined count = %d, want 2", joined)
		}
	})

	t.Run("known room is not reported again", func(t *testing.T) {
		tracker := NewRoomTracker()
		roomID := ref.MustParseRoomID("!known:local")
		tracker.Seed(roomID, nil, false)

		newlyJoined := tracker.Apply(&SyncResponse{
			Rooms: RoomsSection{
				Join: map[ref.RoomID]JoinedRoom{roomID: {}},
			},
		})
		if len(newlyJoined) != 0 {
			t.Errorf("expected no newly joined rooms, got %v", newlyJoined)
		}
	})

	t.Run("membership transitions", func(t *testing.T) {
		tracker := NewRoomTracker()
		roomID := ref.MustParseRoomID("!room1:local")
		tracker.Seed(roomID, []RoomMember{
			{UserID: ref.MustParseUserID("@alice:local"), Membership: "invite"},
		}, false)

		// Alice accepts the invite; Bob leaves after joining.
		tracker.Apply(&SyncResponse{
			Rooms: RoomsSection{
				Join: map[ref.RoomID]JoinedRoom{
					roomID: {
						Timeline: TimelineSection{Events: []Event{
							memberEvent("@alice:local", "join"),
							memberEvent("@bob:local", "join"),
							memberEvent("@bob:local", "leave"),
						}},
					},
				},
			},
		})

		joined, invited := tracker.MemberCounts(roomID)
		if joined != 1 || invited != 0 {
			t.Errorf("MemberCounts = (%d, %d), want (1, 0)", joined, invited)
		}
		members := tracker.JoinedMembers(roomID)
		if len(members) != 1 || members[0].String() != "@alice:local" {
			t.Errorf("unexpected joined members: %v", members)
		}
	})

	t.Run("encryption state event", func(t *testing.T) {
		tracker := NewRoomTracker()
		roomID := ref.MustParseRoomID("!room1:local")
		tracker.Seed(roomID, nil, false)

		stateKey := ""
		tracker.Apply(&SyncResponse{
			Rooms: RoomsSection{
				Join: map[ref.RoomID]JoinedRoom{
					roomID: {
						Timeline: TimelineSection{Events: []Event{
							{
								Type:     "m.room.encryption",
								StateKey: &stateKey,
								Content:  map[string]any{"algorithm": "m.megolm.v1.aes-sha2"},
							},
						}},
					},
				},
			},
		})

		if !tracker.Encrypted(roomID) {
			t.Error("expected room to be marked encrypted")
		}
	})

	t.Run("left rooms are removed", func(t *testing.T) {
		tracker := NewRoomTracker()
		roomID := ref.MustParseRoomID("!gone:local")
		tracker.Seed(roomID, nil, false)

		tracker.Apply(&SyncResponse{
			Rooms: RoomsSection{
				Leave: map[ref.RoomID]LeftRoom{roomID: {}},
			},
		})

		if tracker.Joined(roomID) {
			t.Error("expected room to be removed after leave")
		}
	})
}

func TestRoomTrackerForget(t *testing.T) {
	tracker := NewRoomTracker()
	roomID := ref.MustParseRoomID("!room1:local")
	tracker.Seed(roomID, nil, false)

	tracker.Forget(roomID)

	if tracker.Joined(roomID) {
		t.Error("expected room to be forgotten")
	}
	if members := tracker.JoinedMembers(roomID); members != nil {
		t.Errorf("expected nil members for forgotten room, got %v", members)
	}
	joined, invited := tracker.MemberCounts(roomID)
	if joined != 0 || invited != 0 {
		t.Errorf("MemberCounts = (%d, %d), want (0, 0)", joined, invited)
	}
}
