// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyforward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
)

// ErrNoSession is returned by a DeviceEncryptor when no secure session
// has been established with the target device yet. The forwarder
// records a per-device warning and moves on; key exchange not having
// happened is not fatal to the other recipients.
var ErrNoSession = errors.New("keyforward: no secure session with device")

// RoomSession is one inbound group session the bot holds for a room,
// exported at its earliest known message index.
type RoomSession struct {
	Algorithm  string
	SessionID  string
	SenderKey  string
	FirstIndex uint32
	SessionKey string
}

// ForwardedRoomKeyContent is the m.forwarded_room_key payload wrapped
// into the per-device encrypted envelope.
type ForwardedRoomKeyContent struct {
	Algorithm                     string     `json:"algorithm"`
	RoomID                        ref.RoomID `json:"room_id"`
	SenderKey                     string     `json:"sender_key"`
	SessionID                     string     `json:"session_id"`
	SessionKey                    string     `json:"session_key"`
	SenderClaimedEd25519Key       string     `json:"sender_claimed_ed25519_key,omitempty"`
	ForwardingCurve25519KeyChain  []string   `json:"forwarding_curve25519_key_chain"`
}

// SessionSource enumerates the inbound group sessions held for a room.
type SessionSource interface {
	Sessions(ctx context.Context, roomID ref.RoomID) ([]RoomSession, error)
}

// DeviceDirectory resolves a user's active devices.
type DeviceDirectory interface {
	Devices(ctx context.Context, userID ref.UserID) ([]messaging.Device, error)
}

// DeviceEncryptor wraps a to-device payload in the encrypted envelope
// for one target device. Returns ErrNoSession when no secure session
// with the device exists.
type DeviceEncryptor interface {
	Encrypt(ctx context.Context, device messaging.Device, eventType ref.EventType, content any) (map[string]any, error)
}

// ToDeviceSender delivers encrypted envelopes. *messaging.DirectSession
// satisfies it.
type ToDeviceSender interface {
	SendToDevice(ctx context.Context, eventType ref.EventType, messages map[ref.UserID]map[string]any) error
}

// DeviceResult reports the outcome of forwarding to one device.
type DeviceResult struct {
	UserID   ref.UserID
	DeviceID string

	// Sessions is the number of group sessions forwarded to the device.
	Sessions int

	// Warning is set when the device was skipped, with the reason.
	Warning string
}

// Forwarder runs the historical key forward handshake.
type Forwarder struct {
	Sessions  SessionSource
	Directory DeviceDirectory
	Encryptor DeviceEncryptor
	Sender    ToDeviceSender
	Logger    *slog.Logger
}

// Forward shares every group session held for roomID with every device
// of every recipient. Devices without an established secure session
// are skipped with a warning in their result; an error is returned
// only when the forward as a whole cannot proceed.
func (f *Forwarder) Forward(ctx context.Context, roomID ref.RoomID, recipients []ref.UserID) ([]DeviceResult, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sessions, err := f.Sessions.Sessions(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("keyforward: sessions for %s: %w", roomID, err)
	}
	if len(sessions) == 0 {
		logger.Debug("no group sessions to forward", "room_id", roomID)
		return nil, nil
	}

	var results []DeviceResult
	envelopes := make(map[ref.UserID]map[string]any)
	for _, recipient := range recipients {
		devices, err := f.Directory.Devices(ctx, recipient)
		if err != nil {
			return nil, fmt.Errorf("keyforward: devices of %s: %w", recipient, err)
		}
		for _, device := range devices {
			result, envelope := f.forwardToDevice(ctx, roomID, device, sessions)
			results = append(results, result)
			if envelope == nil {
				logger.Warn("skipping device for key forward",
					"room_id", roomID,
					"user_id", device.UserID,
					"device_id", device.DeviceID,
					"warning", result.Warning)
				continue
			}
			if envelopes[device.UserID] == nil {
				envelopes[device.UserID] = make(map[string]any)
			}
			envelopes[device.UserID][device.DeviceID] = envelope
		}
	}

	if len(envelopes) > 0 {
		if err := f.Sender.SendToDevice(ctx, "m.room.encrypted", envelopes); err != nil {
			return results, fmt.Errorf("keyforward: send to devices: %w", err)
		}
	}
	return results, nil
}

// forwardToDevice encrypts every session for one device. All sessions
// share the device's envelope; a device either receives the full set
// or is skipped.
func (f *Forwarder) forwardToDevice(ctx context.Context, roomID ref.RoomID, device messaging.Device, sessions []RoomSession) (DeviceResult, map[string]any) {
	result := DeviceResult{UserID: device.UserID, DeviceID: device.DeviceID}

	contents := make([]ForwardedRoomKeyContent, 0, len(sessions))
	for _, session := range sessions {
		contents = append(contents, ForwardedRoomKeyContent{
			Algorithm:                    session.Algorithm,
			RoomID:                       roomID,
			SenderKey:                    session.SenderKey,
			SessionID:                    session.SessionID,
			SessionKey:                   session.SessionKey,
			ForwardingCurve25519KeyChain: []string{},
		})
	}

	envelope, err := f.Encryptor.Encrypt(ctx, device, "m.forwarded_room_key", contents)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			result.Warning = "no secure session established"
		} else {
			result.Warning = err.Error()
		}
		return result, nil
	}
	result.Sessions = len(sessions)
	return result, envelope
}

// SessionDirectory implements DeviceDirectory over a messaging session
// by querying the homeserver's device keys.
type SessionDirectory struct {
	Session interface {
		QueryDeviceKeys(ctx context.Context, userIDs []ref.UserID) (map[ref.UserID][]messaging.Device, error)
	}
}

// Devices returns the active devices of one user.
func (d *SessionDirectory) Devices(ctx context.Context, userID ref.UserID) ([]messaging.Device, error) {
	keys, err := d.Session.QueryDeviceKeys(ctx, []ref.UserID{userID})
	if err != nil {
		return nil, fmt.Errorf("keyforward: query device keys: %w", err)
	}
	return keys[userID], nil
}
