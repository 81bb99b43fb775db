// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/lib/sqlitepool"
)

// IncomingEvent is a message received from a user before any ticket or
// chat existed for them. Queued records are replayed into the ticket
// room when a ticket is raised, then deleted.
type IncomingEvent struct {
	ID      int64
	UserID  ref.UserID
	RoomID  ref.RoomID
	EventID ref.EventID
}

// IncomingEvents is the repository for the pre-ticket backfill queue.
type IncomingEvents struct {
	pool *sqlitepool.Pool
}

// Add queues an event for later backfill.
func (q *IncomingEvents) Add(ctx context.Context, userID ref.UserID, roomID ref.RoomID, eventID ref.EventID) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: add incoming event: %w", err)
	}
	defer q.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO incoming_events (user_id, room_id, event_id) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{userID.String(), roomID.String(), eventID.String()}})
	if err != nil {
		return fmt.Errorf("store: add incoming event for %s: %w", userID, err)
	}
	return nil
}

// TakeForUser returns the queued events for the user in insertion
// order and deletes them. A user with nothing queued yields an empty
// slice, not an error.
func (q *IncomingEvents) TakeForUser(ctx context.Context, userID ref.UserID) ([]IncomingEvent, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take incoming events: %w", err)
	}
	defer q.pool.Put(conn)

	var events []IncomingEvent
	err = sqlitex.Execute(conn,
		"SELECT id, user_id, room_id, event_id FROM incoming_events WHERE user_id = ? ORDER BY id",
		&sqlitex.ExecOptions{
			Args: []any{userID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event, err := scanIncoming(stmt)
				if err != nil {
					return err
				}
				events = append(events, *event)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: take incoming events for %s: %w", userID, err)
	}

	err = sqlitex.Execute(conn,
		"DELETE FROM incoming_events WHERE user_id = ?",
		&sqlitex.ExecOptions{Args: []any{userID.String()}})
	if err != nil {
		return nil, fmt.Errorf("store: clear incoming events for %s: %w", userID, err)
	}
	return events, nil
}

func scanIncoming(stmt *sqlite.Stmt) (*IncomingEvent, error) {
	userID, err := ref.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return nil, fmt.Errorf("stored user_id: %w", err)
	}
	roomID, err := ref.ParseRoomID(stmt.ColumnText(2))
	if err != nil {
		return nil, fmt.Errorf("stored room_id: %w", err)
	}
	eventID, err := ref.ParseEventID(stmt.ColumnText(3))
	if err != nil {
		return nil, fmt.Errorf("stored event_id: %w", err)
	}
	return &IncomingEvent{
		ID:      stmt.ColumnInt64(0),
		UserID:  userID,
		RoomID:  roomID,
		EventID: eventID,
	}, nil
}
