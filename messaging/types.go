// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/bureau-foundation/helpdesk/lib/ref"
)

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name            string         `json:"name,omitempty"`
	Topic           string         `json:"topic,omitempty"`
	Visibility      string         `json:"visibility,omitempty"` // "public" or "private"
	Preset          string         `json:"preset,omitempty"`     // "private_chat", "public_chat", "trusted_private_chat"
	Invite          []ref.UserID   `json:"invite,omitempty"`
	IsDirect        bool           `json:"is_direct,omitempty"`
	CreationContent map[string]any `json:"creation_content,omitempty"`
	InitialState    []StateEvent   `json:"initial_state,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent represents a Matrix state event for room creation or state setting.
type StateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

// MessageContent is the content body of a Matrix message event
// (m.room.message). FormattedBody carries the HTML rendering of Body
// when Format is "org.matrix.custom.html". RelatesTo expresses reply,
// edit, and annotation relationships.
type MessageContent struct {
	MsgType       string          `json:"msgtype"`
	Body          string          `json:"body"`
	Format        string          `json:"format,omitempty"`
	FormattedBody string          `json:"formatted_body,omitempty"`
	URL           string          `json:"url,omitempty"`  // MXC URI for media messages
	Info          map[string]any  `json:"info,omitempty"` // media metadata passthrough
	RelatesTo     *RelatesTo      `json:"m.relates_to,omitempty"`
	NewContent    *MessageContent `json:"m.new_content,omitempty"`
}

// RelatesTo expresses relationships between events: replies
// (m.in_reply_to), edits (rel_type "m.replace"), and reactions
// (rel_type "m.annotation" with Key).
type RelatesTo struct {
	RelType   string      `json:"rel_type,omitempty"`
	EventID   ref.EventID `json:"event_id,omitempty"`
	Key       string      `json:"key,omitempty"`
	InReplyTo *InReplyTo  `json:"m.in_reply_to,omitempty"`
}

// InReplyTo references the event being replied to.
type InReplyTo struct {
	EventID ref.EventID `json:"event_id"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}

// NewNotice creates an m.notice message. Notices are used for
// bot-originated announcements so that other bots do not respond to
// them.
func NewNotice(body string) MessageContent {
	return MessageContent{
		MsgType: "m.notice",
		Body:    body,
	}
}

// NewFormattedMessage creates a message carrying both a plain-text
// body and an HTML rendering.
func NewFormattedMessage(msgType, body, formattedBody string) MessageContent {
	return MessageContent{
		MsgType:       msgType,
		Body:          body,
		Format:        "org.matrix.custom.html",
		FormattedBody: formattedBody,
	}
}

// NewReply creates a message that replies to an existing event.
func NewReply(inReplyTo ref.EventID, content MessageContent) MessageContent {
	content.RelatesTo = &RelatesTo{
		InReplyTo: &InReplyTo{EventID: inReplyTo},
	}
	return content
}

// NewReplacement creates an edit of an existing event. The top-level
// body carries the fallback "* text" form; NewContent carries the
// replacement.
func NewReplacement(target ref.EventID, content MessageContent) MessageContent {
	replacement := content
	replacement.Body = "* " + content.Body
	if content.FormattedBody != "" {
		replacement.FormattedBody = "* " + content.FormattedBody
	}
	replacement.RelatesTo = &RelatesTo{
		RelType: "m.replace",
		EventID: target,
	}
	replacement.NewContent = &content
	return replacement
}

// ReactionContent is the content body of an m.reaction event.
type ReactionContent struct {
	RelatesTo RelatesTo `json:"m.relates_to"`
}

// NewReaction creates an m.reaction annotation on the target event.
func NewReaction(target ref.EventID, key string) ReactionContent {
	return ReactionContent{
		RelatesTo: RelatesTo{
			RelType: "m.annotation",
			EventID: target,
			Key:     key,
		},
	}
}

// Event represents a Matrix event from the server.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Redacts        ref.EventID    `json:"redacts,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// RoomMessagesOptions controls pagination for room message fetching.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	Direction string // "b" (backward/older) or "f" (forward/newer)
	Limit     int    // max events to return; 0 uses server default
}

// RoomMessagesResponse is returned by RoomMessages.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership state.
// Map keys are room IDs; encoding/json uses ref.RoomID's TextUnmarshaler
// for automatic validation at deserialization.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// InviteRequest holds the user ID to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// SendEventResponse is returned by SendMessage, SendEvent, RedactEvent,
// and SendStateEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// RoomMember represents a member of a Matrix room.
type RoomMember struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Membership  string     `json:"membership"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// RoomMembersResponse is returned by the /members endpoint.
type RoomMembersResponse struct {
	Chunk []RoomMemberEvent `json:"chunk"`
}

// RoomMemberEvent is a member state event from the /members endpoint.
type RoomMemberEvent struct {
	Type     string            `json:"type"`
	StateKey ref.UserID        `json:"state_key"`
	Sender   ref.UserID        `json:"sender"`
	Content  RoomMemberContent `json:"content"`
}

// RoomMemberContent is the content of a m.room.member state event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsDirect    bool   `json:"is_direct,omitempty"`
}

// KickRequest is the request body for kicking a user from a room.
type KickRequest struct {
	UserID ref.UserID `json:"user_id"`
	Reason string     `json:"reason,omitempty"`
}

// DisplayNameResponse is returned by the /profile/{userId}/displayname endpoint.
type DisplayNameResponse struct {
	DisplayName string `json:"displayname"`
}

// AvatarURLResponse is returned by the /profile/{userId}/avatar_url endpoint.
type AvatarURLResponse struct {
	AvatarURL string `json:"avatar_url"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// ToDeviceRequest is the request body for the /sendToDevice endpoint.
// Messages maps user ID to device ID (or "*") to event content.
type ToDeviceRequest struct {
	Messages map[ref.UserID]map[string]any `json:"messages"`
}

// DeviceKeysRequest is the request body for the /keys/query endpoint.
// DeviceKeys maps each user to the device IDs of interest; an empty
// slice means all devices.
type DeviceKeysRequest struct {
	DeviceKeys map[ref.UserID][]string `json:"device_keys"`
}

// DeviceKeysResponse is returned by the /keys/query endpoint.
type DeviceKeysResponse struct {
	DeviceKeys map[ref.UserID]map[string]DeviceKeyInfo `json:"device_keys"`
}

// DeviceKeyInfo is one device's published identity keys.
type DeviceKeyInfo struct {
	UserID     ref.UserID        `json:"user_id"`
	DeviceID   string            `json:"device_id"`
	Algorithms []string          `json:"algorithms"`
	Keys       map[string]string `json:"keys"`
}

// Device is a flattened view of one device from a key query.
type Device struct {
	DeviceID   string
	UserID     ref.UserID
	Keys       map[string]string
	Algorithms []string
}

// CurveKey returns the device's curve25519 identity key, or "" when
// the device has not published one.
func (d Device) CurveKey() string {
	return d.Keys["curve25519:"+d.DeviceID]
}
