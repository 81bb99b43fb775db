// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/helpdesk/keyforward"
	"github.com/bureau-foundation/helpdesk/lib/clock"
	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/messaging"
	"github.com/bureau-foundation/helpdesk/store"
)

// dedupCapacity bounds the redelivery-rejection cache.
const dedupCapacity = 1000

// entityCacheCapacity bounds the ticket and chat object caches.
const entityCacheCapacity = 256

// KeyForwarder is the engine's view of the historical key forward
// handshake (package keyforward).
type KeyForwarder interface {
	Forward(ctx context.Context, roomID ref.RoomID, recipients []ref.UserID) ([]keyforward.DeviceResult, error)
}

// Config assembles an Engine's collaborators and policy.
type Config struct {
	Session   messaging.Session
	Tracker   *messaging.RoomTracker
	Store     *store.Store
	Forwarder KeyForwarder
	Clock     clock.Clock
	Logger    *slog.Logger

	// ManagementRoom receives unrouted user traffic and staff commands.
	ManagementRoom ref.RoomID

	// LoggingRoom receives operational diagnostics. Zero means the
	// management room doubles as the logging room.
	LoggingRoom ref.RoomID

	// CommandPrefix introduces staff commands, typically "!".
	CommandPrefix string

	// AnonymiseManagement suppresses user identity on relays into the
	// management room. Relays into ticket and chat rooms are always
	// anonymized.
	AnonymiseManagement bool

	// WelcomeMessage greets users in a newly established
	// communications room. Empty disables the greeting.
	WelcomeMessage string

	// PendingExpiry is how long a deferred relay task may wait for its
	// destination room.
	PendingExpiry time.Duration
}

// Engine is the relay orchestrator. The sync loop invokes one Handle*
// entry point per inbound event; the management-room command handler
// and the admin socket both call the same lifecycle operations.
//
// Event processing is serialized by the caller. The pending queue's
// sweep runs concurrently and is internally synchronized.
type Engine struct {
	session   messaging.Session
	tracker   *messaging.RoomTracker
	store     *store.Store
	forwarder KeyForwarder
	clock     clock.Clock
	logger    *slog.Logger

	management          ref.RoomID
	logging             ref.RoomID
	prefix              string
	anonymiseManagement bool
	welcome             string

	classifier *Classifier
	pending    *PendingQueue
	dedup      *dedupCache
	tickets    *entityCache[*store.Ticket]
	chats      *entityCache[*store.Chat]
}

// NewEngine builds an Engine. Clock defaults to the real clock,
// Logger to discard, PendingExpiry to 300 seconds.
func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PendingExpiry == 0 {
		cfg.PendingExpiry = 300 * time.Second
	}
	if cfg.LoggingRoom.IsZero() {
		cfg.LoggingRoom = cfg.ManagementRoom
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}

	engine := &Engine{
		session:             cfg.Session,
		tracker:             cfg.Tracker,
		store:               cfg.Store,
		forwarder:           cfg.Forwarder,
		clock:               cfg.Clock,
		logger:              cfg.Logger,
		management:          cfg.ManagementRoom,
		logging:             cfg.LoggingRoom,
		prefix:              cfg.CommandPrefix,
		anonymiseManagement: cfg.AnonymiseManagement,
		welcome:             cfg.WelcomeMessage,
		classifier: &Classifier{
			Management: cfg.ManagementRoom,
			Logging:    cfg.LoggingRoom,
			Tickets:    cfg.Store.Tickets,
			Chats:      cfg.Store.Chats,
		},
		dedup:   newDedupCache(dedupCapacity),
		tickets: newEntityCache[*store.Ticket](entityCacheCapacity),
		chats:   newEntityCache[*store.Chat](entityCacheCapacity),
	}
	engine.pending = NewPendingQueue(PendingQueueConfig{
		Clock:  cfg.Clock,
		Expiry: cfg.PendingExpiry,
		Ready:  cfg.Tracker.Joined,
		Report: engine.reportDropped,
		Logger: cfg.Logger,
	})
	return engine
}

// Pending exposes the deferred-delivery queue so the daemon can run
// its sweep loop.
func (e *Engine) Pending() *PendingQueue { return e.pending }

// RoomsReady flushes deferred tasks for rooms that just became
// observable. The daemon calls this with the newly joined rooms
// reported by the tracker after each sync.
func (e *Engine) RoomsReady(ctx context.Context, roomIDs []ref.RoomID) {
	for _, roomID := range roomIDs {
		e.pending.Flush(ctx, roomID)
	}
}

// dispatch executes the task now when its destination is materialized,
// otherwise defers it.
func (e *Engine) dispatch(ctx context.Context, task PendingTask) error {
	if e.tracker.Joined(task.Destination) {
		return task.Execute(ctx)
	}
	e.pending.Enqueue(task)
	return nil
}

// reportDropped mirrors a dropped pending task to the logging room so
// the loss is operator-visible.
func (e *Engine) reportDropped(ctx context.Context, task PendingTask) {
	body := fmt.Sprintf("Dropped undeliverable relay task for %s (from %s, sender %s): %s",
		task.Destination, task.Origin, task.Sender, task.Description)
	if _, err := e.session.SendMessage(ctx, e.logging, notice(body)); err != nil {
		e.logger.Error("failed to report dropped task",
			"room_id", e.logging, "error", err)
	}
}

// reportLoss mirrors a silently dropped relay (unresolvable redaction,
// failed delivery) to the logging room.
func (e *Engine) reportLoss(ctx context.Context, body string) {
	if _, err := e.session.SendMessage(ctx, e.logging, notice(body)); err != nil {
		e.logger.Error("failed to report relay loss",
			"room_id", e.logging, "error", err)
	}
}

// announce posts a bot notice to a room, logging delivery failures.
func (e *Engine) announce(ctx context.Context, roomID ref.RoomID, body string) {
	if _, err := e.session.SendMessage(ctx, roomID, notice(body)); err != nil {
		e.logger.Error("announcement failed",
			"room_id", roomID, "error", err)
	}
}

// renderError posts the human-readable form of err to the room the
// triggering action came from.
func (e *Engine) renderError(ctx context.Context, roomID ref.RoomID, err error) {
	e.announce(ctx, roomID, UserMessage(err))
}

// getTicket loads a ticket through the bounded cache.
func (e *Engine) getTicket(ctx context.Context, ticketID int64) (*store.Ticket, error) {
	ticket, err := e.tickets.GetOrLoad(ticketID, func() (*store.Ticket, error) {
		return e.store.Tickets.Get(ctx, ticketID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errorf(KindNotFound, "ticket #%d not found", ticketID)
	}
	return ticket, err
}

// getChat loads a chat through the bounded cache.
func (e *Engine) getChat(ctx context.Context, chatID int64) (*store.Chat, error) {
	chat, err := e.chats.GetOrLoad(chatID, func() (*store.Chat, error) {
		return e.store.Chats.Get(ctx, chatID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errorf(KindNotFound, "chat #%d not found", chatID)
	}
	return chat, err
}

// forwardKeys runs the historical key forward for recipients of an
// encrypted room. Failures are logged but never abort the lifecycle
// operation that triggered them; keys can be re-forwarded on reopen.
func (e *Engine) forwardKeys(ctx context.Context, roomID ref.RoomID, recipients []ref.UserID) {
	if e.forwarder == nil || !e.tracker.Encrypted(roomID) {
		return
	}
	results, err := e.forwarder.Forward(ctx, roomID, recipients)
	if err != nil {
		e.logger.Error("historical key forward failed",
			"room_id", roomID, "error", err)
		return
	}
	for _, result := range results {
		if result.Warning != "" {
			e.logger.Warn("device skipped during key forward",
				"room_id", roomID,
				"user_id", result.UserID,
				"device_id", result.DeviceID,
				"warning", result.Warning)
		}
	}
}

// communicationsRoom resolves the user's direct room with the bot,
// creating one when none exists yet.
func (e *Engine) communicationsRoom(ctx context.Context, user *store.User) (ref.RoomID, error) {
	if !user.CommunicationsRoom.IsZero() {
		return user.CommunicationsRoom, nil
	}

	response, err := e.session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Preset:   "trusted_private_chat",
		Invite:   []ref.UserID{user.ID},
		IsDirect: true,
		InitialState: []messaging.StateEvent{
			encryptionState(),
		},
	})
	if err != nil {
		return ref.RoomID{}, errorf(KindProtocol, "creating communications room for %s: %v", user.ID, err)
	}
	if err := e.store.Users.SetCommunicationsRoom(ctx, user.ID, response.RoomID); err != nil {
		return ref.RoomID{}, err
	}
	user.CommunicationsRoom = response.RoomID

	if e.welcome != "" {
		e.dispatchWelcome(ctx, response.RoomID)
	}
	return response.RoomID, nil
}

// dispatchWelcome greets the user in their communications room once it
// materializes.
func (e *Engine) dispatchWelcome(ctx context.Context, roomID ref.RoomID) {
	welcome := e.welcome
	task := PendingTask{
		Destination: roomID,
		Origin:      roomID,
		Sender:      e.session.UserID(),
		Description: "welcome message",
		Execute: func(ctx context.Context) error {
			_, err := e.session.SendMessage(ctx, roomID, notice(welcome))
			return err
		},
	}
	if err := e.dispatch(ctx, task); err != nil {
		e.logger.Error("welcome message failed", "room_id", roomID, "error", err)
	}
}

// encryptionState is the initial-state event enabling encryption in
// rooms the relay creates.
func encryptionState() messaging.StateEvent {
	return messaging.StateEvent{
		Type: "m.room.encryption",
		Content: map[string]any{
			"algorithm": "m.megolm.v1.aes-sha2",
		},
	}
}
