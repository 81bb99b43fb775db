// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/helpdesk/keyforward"
	"github.com/bureau-foundation/helpdesk/lib/clock"
	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
	"github.com/bureau-foundation/helpdesk/store"
)

var (
	botUser        = ref.MustParseUserID("@helpdesk:test")
	staffUser      = ref.MustParseUserID("@staff:test")
	endUser        = ref.MustParseUserID("@alice:test")
	managementRoom = ref.MustParseRoomID("!mgmt:test")
	loggingRoom    = ref.MustParseRoomID("!log:test")
)

// sentMessage records one SendMessage call on the fake session.
type sentMessage struct {
	RoomID  ref.RoomID
	Content messaging.MessageContent
}

// sentRedaction records one RedactEvent call.
type sentRedaction struct {
	RoomID  ref.RoomID
	EventID ref.EventID
	Reason  string
}

// sentKick records one KickUser call.
type sentKick struct {
	RoomID ref.RoomID
	UserID ref.UserID
	Reason string
}

// fakeSession is an in-memory messaging.Session. Rooms are created
// with sequential IDs; sent events get sequential event IDs.
type fakeSession struct {
	mu sync.Mutex

	userID       ref.UserID
	roomCounter  int
	eventCounter int

	created    []messaging.CreateRoomRequest
	sent       []sentMessage
	sentEvents []struct {
		RoomID  ref.RoomID
		Type    ref.EventType
		Content any
	}
	redactions []sentRedaction
	invites    map[ref.RoomID][]ref.UserID
	kicks      []sentKick
	joined     []ref.RoomID
	left       []ref.RoomID
	forgotten  []ref.RoomID

	// events backs GetEvent, keyed by "roomID/eventID".
	events map[string]*messaging.Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		userID:  botUser,
		invites: make(map[ref.RoomID][]ref.UserID),
		events:  make(map[string]*messaging.Event),
	}
}

func (s *fakeSession) addEvent(roomID ref.RoomID, event *messaging.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[roomID.String()+"/"+event.EventID.String()] = event
}

func (s *fakeSession) messagesTo(roomID ref.RoomID) []messaging.MessageContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var contents []messaging.MessageContent
	for _, message := range s.sent {
		if message.RoomID == roomID {
			contents = append(contents, message.Content)
		}
	}
	return contents
}

func (s *fakeSession) UserID() ref.UserID { return s.userID }
func (s *fakeSession) Close() error       { return nil }

func (s *fakeSession) WhoAmI(ctx context.Context) (ref.UserID, error) {
	return s.userID, nil
}

func (s *fakeSession) CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomCounter++
	s.created = append(s.created, request)
	return &messaging.CreateRoomResponse{
		RoomID: ref.MustParseRoomID(fmt.Sprintf("!room%d:test", s.roomCounter)),
	}, nil
}

func (s *fakeSession) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[roomID] = append(s.invites[roomID], userID)
	return nil
}

func (s *fakeSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, roomID)
	return roomID, nil
}

func (s *fakeSession) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	return nil, nil
}

func (s *fakeSession) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, roomID)
	return nil
}

func (s *fakeSession) ForgetRoom(ctx context.Context, roomID ref.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten = append(s.forgotten, roomID)
	return nil
}

func (s *fakeSession) KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicks = append(s.kicks, sentKick{RoomID: roomID, UserID: userID, Reason: reason})
	return nil
}

func (s *fakeSession) SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCounter++
	s.sent = append(s.sent, sentMessage{RoomID: roomID, Content: content})
	return ref.MustParseEventID(fmt.Sprintf("$sent%d", s.eventCounter)), nil
}

func (s *fakeSession) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCounter++
	s.sentEvents = append(s.sentEvents, struct {
		RoomID  ref.RoomID
		Type    ref.EventType
		Content any
	}{roomID, eventType, content})
	return ref.MustParseEventID(fmt.Sprintf("$sent%d", s.eventCounter)), nil
}

func (s *fakeSession) RedactEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID, reason string) (ref.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCounter++
	s.redactions = append(s.redactions, sentRedaction{RoomID: roomID, EventID: eventID, Reason: reason})
	return ref.MustParseEventID(fmt.Sprintf("$sent%d", s.eventCounter)), nil
}

func (s *fakeSession) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	return ref.MustParseEventID("$state"), nil
}

func (s *fakeSession) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error) {
	return nil, fmt.Errorf("not found")
}

func (s *fakeSession) GetRoomState(ctx context.Context, roomID ref.RoomID) ([]messaging.Event, error) {
	return nil, nil
}

func (s *fakeSession) GetEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*messaging.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[roomID.String()+"/"+eventID.String()]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return event, nil
}

func (s *fakeSession) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.RoomMember, error) {
	return nil, nil
}

func (s *fakeSession) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	return "", nil
}

func (s *fakeSession) GetAvatarURL(ctx context.Context, userID ref.UserID) (string, error) {
	return "mxc://test/avatar", nil
}

func (s *fakeSession) RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error) {
	return &messaging.RoomMessagesResponse{}, nil
}

func (s *fakeSession) UploadMedia(ctx context.Context, contentType string, body io.Reader) (string, error) {
	return "mxc://test/upload", nil
}

func (s *fakeSession) SendToDevice(ctx context.Context, eventType ref.EventType, messages map[ref.UserID]map[string]any) error {
	return nil
}

func (s *fakeSession) QueryDeviceKeys(ctx context.Context, userIDs []ref.UserID) (map[ref.UserID][]messaging.Device, error) {
	return nil, nil
}

func (s *fakeSession) Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error) {
	return &messaging.SyncResponse{}, nil
}

var _ messaging.Session = (*fakeSession)(nil)

// fakeForwarder records key-forward invocations.
type fakeForwarder struct {
	mu    sync.Mutex
	calls []struct {
		RoomID     ref.RoomID
		Recipients []ref.UserID
	}
}

func (f *fakeForwarder) Forward(ctx context.Context, roomID ref.RoomID, recipients []ref.UserID) ([]keyforward.DeviceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		RoomID     ref.RoomID
		Recipients []ref.UserID
	}{roomID, recipients})
	return nil, nil
}

func (f *fakeForwarder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// testEngine bundles an Engine with its fakes for assertions.
type testEngine struct {
	engine    *Engine
	session   *fakeSession
	forwarder *fakeForwarder
	tracker   *messaging.RoomTracker
	store     *store.Store
	clock     *clock.FakeClock
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dataStore, err := store.Open(store.Config{
		Path:  filepath.Join(t.TempDir(), "relay.db"),
		Clock: fakeClock,
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { dataStore.Close() })

	session := newFakeSession()
	forwarder := &fakeForwarder{}
	tracker := messaging.NewRoomTracker()

	engine := NewEngine(Config{
		Session:        session,
		Tracker:        tracker,
		Store:          dataStore,
		Forwarder:      forwarder,
		Clock:          fakeClock,
		ManagementRoom: managementRoom,
		LoggingRoom:    loggingRoom,
		CommandPrefix:  "!",
		WelcomeMessage: "Welcome! A staff member will be with you shortly.",
		PendingExpiry:  300 * time.Second,
	})

	// The bot occupies the management and logging rooms from startup.
	seedRoom(tracker, managementRoom, false, botUser, staffUser)
	seedRoom(tracker, loggingRoom, false, botUser)

	return &testEngine{
		engine:    engine,
		session:   session,
		forwarder: forwarder,
		tracker:   tracker,
		store:     dataStore,
		clock:     fakeClock,
	}
}

// seedRoom marks a room as joined in the tracker with the given
// members.
func seedRoom(tracker *messaging.RoomTracker, roomID ref.RoomID, encrypted bool, members ...ref.UserID) {
	roomMembers := make([]messaging.RoomMember, 0, len(members))
	for _, member := range members {
		roomMembers = append(roomMembers, messaging.RoomMember{
			UserID:     member,
			Membership: "join",
		})
	}
	tracker.Seed(roomID, roomMembers, encrypted)
}

// mustRaise raises a ticket through the engine and seeds the tracker
// with its room so subsequent relays dispatch immediately.
func (h *testEngine) mustRaise(t *testing.T, name string) *store.Ticket {
	t.Helper()
	ticket, err := h.engine.RaiseTicket(context.Background(), staffUser, endUser, name)
	if err != nil {
		t.Fatalf("RaiseTicket failed: %v", err)
	}
	seedRoom(h.tracker, ticket.RoomID, true, botUser, staffUser)
	return ticket
}

// userWithRoom ensures the end user exists with a known communications
// room that the tracker considers joined.
func (h *testEngine) userWithRoom(t *testing.T) ref.RoomID {
	t.Helper()
	ctx := context.Background()
	roomID := ref.MustParseRoomID("!dm-alice:test")
	if _, err := h.store.Users.Ensure(ctx, endUser); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if err := h.store.Users.SetCommunicationsRoom(ctx, endUser, roomID); err != nil {
		t.Fatalf("SetCommunicationsRoom failed: %v", err)
	}
	seedRoom(h.tracker, roomID, false, botUser, endUser)
	return roomID
}
