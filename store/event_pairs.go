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

// EventRef addresses one event in one room.
type EventRef struct {
	RoomID  ref.RoomID
	EventID ref.EventID
}

// EventPairs is the repository correlating every relayed event with
// its clone in the counterpart room. Resolution is symmetric: given
// either side of a pair, Resolve returns the other. The table is used
// only for reply, edit, and redaction translation, not as an audit
// log.
type EventPairs struct {
	pool *sqlitepool.Pool
}

// Put records a (source, clone) pair. Duplicate inserts for the same
// source key are no-ops: room recreation can replay identical event
// IDs and must not error.
func (p *EventPairs) Put(ctx context.Context, source, clone EventRef) error {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: put event pair: %w", err)
	}
	defer p.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO event_pairs (source_room, source_event, clone_room, clone_event) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{
			source.RoomID.String(), source.EventID.String(),
			clone.RoomID.String(), clone.EventID.String(),
		}})
	if err != nil {
		return fmt.Errorf("store: put event pair %s/%s: %w", source.RoomID, source.EventID, err)
	}
	return nil
}

// Resolve returns the counterpart of the given event, looking from
// either direction. Returns ErrNotFound when the event was never
// paired.
func (p *EventPairs) Resolve(ctx context.Context, event EventRef) (EventRef, error) {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return EventRef{}, fmt.Errorf("store: resolve event pair: %w", err)
	}
	defer p.pool.Put(conn)

	var counterpart *EventRef
	scan := func(roomColumn, eventColumn int) sqlitex.ExecOptions {
		return sqlitex.ExecOptions{
			Args: []any{event.RoomID.String(), event.EventID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID, err := ref.ParseRoomID(stmt.ColumnText(roomColumn))
				if err != nil {
					return fmt.Errorf("stored room_id: %w", err)
				}
				eventID, err := ref.ParseEventID(stmt.ColumnText(eventColumn))
				if err != nil {
					return fmt.Errorf("stored event_id: %w", err)
				}
				counterpart = &EventRef{RoomID: roomID, EventID: eventID}
				return nil
			},
		}
	}

	// Forward direction: the event is a source, return the clone.
	options := scan(0, 1)
	err = sqlitex.Execute(conn,
		"SELECT clone_room, clone_event FROM event_pairs WHERE source_room = ? AND source_event = ?",
		&options)
	if err != nil {
		return EventRef{}, fmt.Errorf("store: resolve %s/%s: %w", event.RoomID, event.EventID, err)
	}
	if counterpart != nil {
		return *counterpart, nil
	}

	// Reverse direction: the event is a clone, return the source.
	options = scan(0, 1)
	err = sqlitex.Execute(conn,
		"SELECT source_room, source_event FROM event_pairs WHERE clone_room = ? AND clone_event = ?",
		&options)
	if err != nil {
		return EventRef{}, fmt.Errorf("store: resolve %s/%s: %w", event.RoomID, event.EventID, err)
	}
	if counterpart != nil {
		return *counterpart, nil
	}
	return EventRef{}, ErrNotFound
}

// DeleteForRoom removes every pair mentioning the room on either side.
// Used when a ticket or chat room is deleted so stale correlations
// cannot misroute a later reply.
func (p *EventPairs) DeleteForRoom(ctx context.Context, roomID ref.RoomID) error {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete pairs for room: %w", err)
	}
	defer p.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM event_pairs WHERE source_room = ? OR clone_room = ?",
		&sqlitex.ExecOptions{Args: []any{roomID.String(), roomID.String()}})
	if err != nil {
		return fmt.Errorf("store: delete pairs for room %s: %w", roomID, err)
	}
	return nil
}

// DeleteEvent removes any pair mentioning the event on either side.
// Used before re-pairing a backfilled event with a fresh clone.
func (p *EventPairs) DeleteEvent(ctx context.Context, event EventRef) error {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete event pair: %w", err)
	}
	defer p.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM event_pairs WHERE (source_room = ? AND source_event = ?) OR (clone_room = ? AND clone_event = ?)",
		&sqlitex.ExecOptions{Args: []any{
			event.RoomID.String(), event.EventID.String(),
			event.RoomID.String(), event.EventID.String(),
		}})
	if err != nil {
		return fmt.Errorf("store: delete pair %s/%s: %w", event.RoomID, event.EventID, err)
	}
	return nil
}
