// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyforward

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
)

var (
	testRoom  = ref.MustParseRoomID("!ticket:test")
	alice     = ref.MustParseUserID("@alice:test")
	bob       = ref.MustParseUserID("@bob:test")
	megolmAlg = "m.megolm.v1.aes-sha2"
)

type fakeSessionSource struct {
	sessions []RoomSession
	err      error
}

func (s *fakeSessionSource) Sessions(ctx context.Context, roomID ref.RoomID) ([]RoomSession, error) {
	return s.sessions, s.err
}

type fakeDirectory struct {
	devices map[ref.UserID][]messaging.Device
}

func (d *fakeDirectory) Devices(ctx context.Context, userID ref.UserID) ([]messaging.Device, error) {
	return d.devices[userID], nil
}

// fakeEncryptor wraps content in a marker map; devices listed in
// noSession are rejected with ErrNoSession.
type fakeEncryptor struct {
	noSession map[string]bool
}

func (e *fakeEncryptor) Encrypt(ctx context.Context, device messaging.Device, eventType ref.EventType, content any) (map[string]any, error) {
	if e.noSession[device.DeviceID] {
		return nil, ErrNoSession
	}
	return map[string]any{
		"algorithm": "m.olm.v1.curve25519-aes-sha2",
		"device_id": device.DeviceID,
		"type":      eventType.String(),
		"payload":   content,
	}, nil
}

type fakeSender struct {
	calls []map[ref.UserID]map[string]any
	types []ref.EventType
}

func (s *fakeSender) SendToDevice(ctx context.Context, eventType ref.EventType, messages map[ref.UserID]map[string]any) error {
	s.types = append(s.types, eventType)
	s.calls = append(s.calls, messages)
	return nil
}

func device(userID ref.UserID, deviceID string) messaging.Device {
	return messaging.Device{
		DeviceID:   deviceID,
		UserID:     userID,
		Keys:       map[string]string{"curve25519:" + deviceID: "curve-" + deviceID},
		Algorithms: []string{"m.olm.v1.curve25519-aes-sha2", megolmAlg},
	}
}

func newForwarder(source *fakeSessionSource, directory *fakeDirectory, encryptor *fakeEncryptor, sender *fakeSender) *Forwarder {
	return &Forwarder{
		Sessions:  source,
		Directory: directory,
		Encryptor: encryptor,
		Sender:    sender,
	}
}

func TestForward(t *testing.T) {
	ctx := context.Background()
	sessions := []RoomSession{
		{Algorithm: megolmAlg, SessionID: "session-1", SenderKey: "sender-key", FirstIndex: 0, SessionKey: "export-1"},
		{Algorithm: megolmAlg, SessionID: "session-2", SenderKey: "sender-key", FirstIndex: 4, SessionKey: "export-2"},
	}
	directory := &fakeDirectory{devices: map[ref.UserID][]messaging.Device{
		alice: {device(alice, "ALICE1"), device(alice, "ALICE2")},
		bob:   {device(bob, "BOB1")},
	}}

	t.Run("every session reaches every device", func(t *testing.T) {
		sender := &fakeSender{}
		forwarder := newForwarder(&fakeSessionSource{sessions: sessions}, directory, &fakeEncryptor{}, sender)

		results, err := forwarder.Forward(ctx, testRoom, []ref.UserID{alice, bob})
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 device results, got %d", len(results))
		}
		for _, result := range results {
			if result.Warning != "" {
				t.Errorf("device %s skipped: %s", result.DeviceID, result.Warning)
			}
			if result.Sessions != 2 {
				t.Errorf("device %s got %d sessions, want 2", result.DeviceID, result.Sessions)
			}
		}

		if len(sender.calls) != 1 {
			t.Fatalf("expected 1 batched send, got %d", len(sender.calls))
		}
		if sender.types[0] != "m.room.encrypted" {
			t.Errorf("sent event type = %s", sender.types[0])
		}
		envelopes := sender.calls[0]
		if len(envelopes[alice]) != 2 || len(envelopes[bob]) != 1 {
			t.Errorf("envelope layout: alice=%d bob=%d", len(envelopes[alice]), len(envelopes[bob]))
		}
	})

	t.Run("device without a secure session is skipped with a warning", func(t *testing.T) {
		sender := &fakeSender{}
		encryptor := &fakeEncryptor{noSession: map[string]bool{"ALICE2": true}}
		forwarder := newForwarder(&fakeSessionSource{sessions: sessions}, directory, encryptor, sender)

		results, err := forwarder.Forward(ctx, testRoom, []ref.UserID{alice})
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		var skipped, forwarded int
		for _, result := range results {
			if result.Warning != "" {
				skipped++
				if result.DeviceID != "ALICE2" {
					t.Errorf("wrong device skipped: %s", result.DeviceID)
				}
			} else {
				forwarded++
			}
		}
		if skipped != 1 || forwarded != 1 {
			t.Errorf("skipped=%d forwarded=%d, want 1/1", skipped, forwarded)
		}
		if len(sender.calls) != 1 || len(sender.calls[0][alice]) != 1 {
			t.Error("only the reachable device should receive an envelope")
		}
	})

	t.Run("no sessions held is a quiet no-op", func(t *testing.T) {
		sender := &fakeSender{}
		forwarder := newForwarder(&fakeSessionSource{}, directory, &fakeEncryptor{}, sender)

		results, err := forwarder.Forward(ctx, testRoom, []ref.UserID{alice})
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if len(results) != 0 || len(sender.calls) != 0 {
			t.Errorf("results=%d sends=%d, want 0/0", len(results), len(sender.calls))
		}
	})

	t.Run("session source failure aborts", func(t *testing.T) {
		sourceError := errors.New("store unavailable")
		forwarder := newForwarder(&fakeSessionSource{err: sourceError}, directory, &fakeEncryptor{}, &fakeSender{})

		_, err := forwarder.Forward(ctx, testRoom, []ref.UserID{alice})
		if !errors.Is(err, sourceError) {
			t.Errorf("expected wrapped source error, got: %v", err)
		}
	})
}

func TestSessionDirectory(t *testing.T) {
	directory := &SessionDirectory{Session: &stubKeyQuerier{
		keys: map[ref.UserID][]messaging.Device{
			alice: {device(alice, "ALICE1")},
		},
	}}

	devices, err := directory.Devices(context.Background(), alice)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 || devices[0].DeviceID != "ALICE1" {
		t.Errorf("devices = %v", devices)
	}
}

type stubKeyQuerier struct {
	keys map[ref.UserID][]messaging.Device
}

func (s *stubKeyQuerier) QueryDeviceKeys(ctx context.Context, userIDs []ref.UserID) (map[ref.UserID][]messaging.Device, error) {
	return s.keys, nil
}
