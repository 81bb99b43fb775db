// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/helpdesk/lib/clock"
	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
	"github.com/bureau-foundation/helpdesk/relay"
)

// syncTimeout is the /sync long-poll timeout in milliseconds.
const syncTimeout = 30000

// syncFilter restricts /sync responses to the event types the relay
// routes. Membership and encryption state must be included so the room
// tracker stays current; everything else (presence, receipts, typing)
// is noise at relay scale.
var syncFilter = buildSyncFilter()

func buildSyncFilter() string {
	timelineTypes := []string{
		"m.room.message",
		"m.room.member",
		"m.room.encryption",
		"m.room.redaction",
		"m.call.*",
	}
	stateTypes := []string{
		"m.room.member",
		"m.room.encryption",
	}
	emptyTypes := []string{}

	filter := map[string]any{
		"room": map[string]any{
			"state": map[string]any{
				"types": stateTypes,
			},
			"timeline": map[string]any{
				"types": timelineTypes,
				"limit": 100,
			},
			"ephemeral": map[string]any{
				"types": emptyTypes,
			},
			"account_data": map[string]any{
				"types": emptyTypes,
			},
		},
		"presence": map[string]any{
			"types": emptyTypes,
		},
		"account_data": map[string]any{
			"types": emptyTypes,
		},
	}

	data, err := json.Marshal(filter)
	if err != nil {
		panic("building sync filter: " + err.Error())
	}
	return string(data)
}

// relayDaemon drives the /sync loop and translates raw Matrix events
// into the engine's typed inputs.
type relayDaemon struct {
	session messaging.Session
	engine  *relay.Engine
	tracker *messaging.RoomTracker
	botUser ref.UserID
	clock   clock.Clock
	logger  *slog.Logger
}

// initialSync performs the first /sync with an immediate timeout and
// returns the since token for the incremental loop. The response body
// is folded into the tracker but its timeline events are not routed:
// they predate this process, and replaying them would re-relay old
// traffic (the dedup cache only spans the current process).
func (d *relayDaemon) initialSync(ctx context.Context) (string, error) {
	response, err := d.session.Sync(ctx, messaging.SyncOptions{
		Timeout:    0,
		SetTimeout: true,
		Filter:     syncFilter,
	})
	if err != nil {
		return "", err
	}

	newlyJoined := d.tracker.Apply(response)
	d.engine.RoomsReady(ctx, newlyJoined)

	d.logger.Info("initial sync complete",
		"next_batch", response.NextBatch,
		"joined_rooms", len(response.Rooms.Join),
		"pending_invites", len(response.Rooms.Invite),
	)

	// Invites that arrived while the relay was offline still need
	// handling (direct-chat invites open communications rooms).
	d.handleInvites(ctx, response)

	return response.NextBatch, nil
}

// syncLoop long-polls /sync until ctx is cancelled. Transient errors
// back off and retry with a fresh connection pool; the since token is
// only advanced after a response is fully processed, so a crash replays
// at most one batch (absorbed by the dedup cache).
func (d *relayDaemon) syncLoop(ctx context.Context, since string) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		response, err := d.session.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    syncTimeout,
			SetTimeout: true,
			Filter:     syncFilter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("sync failed", "error", err, "backoff", backoff)
			d.clock.Sleep(backoff)
			backoff = min(backoff*2, time.Minute)
			continue
		}
		backoff = time.Second

		d.handleSync(ctx, response)
		since = response.NextBatch
	}
}

// handleSync folds one /sync response into the tracker and routes its
// events through the engine.
func (d *relayDaemon) handleSync(ctx context.Context, response *messaging.SyncResponse) {
	// Track membership first: a message in a room the bot just joined
	// must see the room as ready when it routes.
	newlyJoined := d.tracker.Apply(response)
	d.engine.RoomsReady(ctx, newlyJoined)

	d.handleInvites(ctx, response)

	for roomID, room := range response.Rooms.Join {
		for _, event := range room.Timeline.Events {
			if err := d.routeEvent(ctx, roomID, event); err != nil {
				d.logger.Error("event routing failed",
					"room_id", roomID,
					"event_id", event.EventID,
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// handleInvites surfaces pending room invites to the engine. Only
// invites addressed to the bot itself matter; the engine joins direct
// chats and ignores the rest.
func (d *relayDaemon) handleInvites(ctx context.Context, response *messaging.SyncResponse) {
	for roomID, room := range response.Rooms.Invite {
		for _, event := range room.InviteState.Events {
			if event.Type != "m.room.member" || event.StateKey == nil || *event.StateKey != d.botUser.String() {
				continue
			}
			membership, _ := event.Content["membership"].(string)
			if membership != "invite" {
				continue
			}
			isDirect, _ := event.Content["is_direct"].(bool)
			member := relay.MemberEvent{
				RoomID:     roomID,
				EventID:    event.EventID,
				Sender:     event.Sender,
				Target:     d.botUser,
				Membership: "invite",
				IsDirect:   isDirect,
			}
			if err := d.engine.HandleMember(ctx, member); err != nil {
				d.logger.Error("invite handling failed",
					"room_id", roomID,
					"sender", event.Sender,
					"error", err,
				)
			}
		}
	}
}

// routeEvent dispatches one timeline event to the engine handler for
// its category.
func (d *relayDaemon) routeEvent(ctx context.Context, roomID ref.RoomID, event messaging.Event) error {
	switch {
	case event.Type == "m.room.message":
		return d.routeMessage(ctx, roomID, event)
	case event.Type == "m.room.redaction":
		reason, _ := event.Content["reason"].(string)
		return d.engine.HandleRedaction(ctx, relay.RedactionEvent{
			RoomID:  roomID,
			EventID: event.EventID,
			Sender:  event.Sender,
			Redacts: event.Redacts,
			Reason:  reason,
		})
	case event.Type == "m.room.member":
		return d.routeMember(ctx, roomID, event)
	case strings.HasPrefix(event.Type.String(), "m.call."):
		return d.engine.HandleCall(ctx, relay.CallEvent{
			RoomID:  roomID,
			EventID: event.EventID,
			Sender:  event.Sender,
			Type:    event.Type,
			Content: event.Content,
		})
	}
	return nil
}

// routeMessage parses an m.room.message event into a text or media
// input. Unknown msgtypes are dropped.
func (d *relayDaemon) routeMessage(ctx context.Context, roomID ref.RoomID, event messaging.Event) error {
	msgType, _ := event.Content["msgtype"].(string)
	body, _ := event.Content["body"].(string)
	replyTo, replaces, newBody := parseRelations(event.Content)

	switch msgType {
	case "m.text", "m.notice", "m.emote":
		return d.engine.HandleText(ctx, relay.TextEvent{
			RoomID:   roomID,
			EventID:  event.EventID,
			Sender:   event.Sender,
			Body:     body,
			ReplyTo:  replyTo,
			Replaces: replaces,
			NewBody:  newBody,
		})
	case "m.image", "m.file", "m.audio", "m.video":
		url, _ := event.Content["url"].(string)
		info, _ := event.Content["info"].(map[string]any)
		return d.engine.HandleMedia(ctx, relay.MediaEvent{
			RoomID:  roomID,
			EventID: event.EventID,
			Sender:  event.Sender,
			MsgType: msgType,
			Body:    body,
			URL:     url,
			Info:    info,
			ReplyTo: replyTo,
		})
	}
	return nil
}

// routeMember parses an m.room.member state change from the timeline.
func (d *relayDaemon) routeMember(ctx context.Context, roomID ref.RoomID, event messaging.Event) error {
	if event.StateKey == nil {
		return nil
	}
	target, err := ref.ParseUserID(*event.StateKey)
	if err != nil {
		return nil
	}
	membership, _ := event.Content["membership"].(string)
	isDirect, _ := event.Content["is_direct"].(bool)

	return d.engine.HandleMember(ctx, relay.MemberEvent{
		RoomID:     roomID,
		EventID:    event.EventID,
		Sender:     event.Sender,
		Target:     target,
		Membership: membership,
		IsDirect:   isDirect,
	})
}

// parseRelations extracts reply and edit relations from message
// content. An m.replace relation carries the replacement body in
// m.new_content; the top-level body is the "* "-prefixed fallback.
func parseRelations(content map[string]any) (replyTo, replaces ref.EventID, newBody string) {
	relates, ok := content["m.relates_to"].(map[string]any)
	if !ok {
		return replyTo, replaces, ""
	}

	if inReplyTo, ok := relates["m.in_reply_to"].(map[string]any); ok {
		if raw, ok := inReplyTo["event_id"].(string); ok {
			if eventID, err := ref.ParseEventID(raw); err == nil {
				replyTo = eventID
			}
		}
	}

	if relType, _ := relates["rel_type"].(string); relType == "m.replace" {
		if raw, ok := relates["event_id"].(string); ok {
			if eventID, err := ref.ParseEventID(raw); err == nil {
				replaces = eventID
			}
		}
		if newContent, ok := content["m.new_content"].(map[string]any); ok {
			newBody, _ = newContent["body"].(string)
		}
	}

	return replyTo, replaces, newBody
}
