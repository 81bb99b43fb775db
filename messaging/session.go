// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"io"

	"github.com/bureau-foundation/helpdesk/lib/ref"
)

// Session is the interface for the Matrix operations the relay engine
// performs. The production implementation is [*DirectSession]; tests
// substitute an in-memory fake so the engine can be exercised without
// a homeserver.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID of the bot
	// account (e.g., "@helpdesk:example.com").
	UserID() ref.UserID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// WhoAmI validates the session and returns the user ID.
	WhoAmI(ctx context.Context) (ref.UserID, error)

	// CreateRoom creates a new Matrix room.
	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	// InviteUser invites a user to a room.
	InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error

	// JoinRoom joins a room by room ID. Returns the room ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// JoinedRooms returns the list of room IDs the user has joined.
	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)

	// LeaveRoom leaves a room.
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error

	// ForgetRoom forgets a previously left room.
	ForgetRoom(ctx context.Context, roomID ref.RoomID) error

	// KickUser removes a user from a room with an optional reason.
	KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error

	// SendMessage sends an m.room.message event. Returns the event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error)

	// SendEvent sends an event of any type to a room. Returns the event ID.
	SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error)

	// RedactEvent redacts an event in a room. Returns the redaction's
	// event ID.
	RedactEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID, reason string) (ref.EventID, error)

	// SendStateEvent sends a state event to a room. Returns the event ID.
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)

	// GetStateEvent fetches a specific state event's content from a room.
	// Returns the raw JSON content for the caller to unmarshal.
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)

	// GetRoomState fetches all current state events from a room.
	GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error)

	// GetEvent fetches a single event by ID.
	GetEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*Event, error)

	// GetRoomMembers returns the members of a room.
	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error)

	// GetDisplayName fetches a user's display name.
	GetDisplayName(ctx context.Context, userID ref.UserID) (string, error)

	// GetAvatarURL fetches a user's avatar MXC URI.
	GetAvatarURL(ctx context.Context, userID ref.UserID) (string, error)

	// RoomMessages fetches paginated messages from a room.
	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	// UploadMedia uploads content to the media repository. Returns the
	// MXC URI.
	UploadMedia(ctx context.Context, contentType string, body io.Reader) (string, error)

	// SendToDevice sends an event directly to specific devices.
	SendToDevice(ctx context.Context, eventType ref.EventType, messages map[ref.UserID]map[string]any) error

	// QueryDeviceKeys fetches device identity keys for the given users.
	QueryDeviceKeys(ctx context.Context, userIDs []ref.UserID) (map[ref.UserID][]Device, error)

	// Sync performs an incremental sync with the homeserver.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
