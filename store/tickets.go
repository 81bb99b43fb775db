// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/helpdesk/lib/clock"
	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/lib/sqlitepool"
)

// Ticket is a named support case owned by one user, backed by a
// dedicated room once one has been created. Staff and support
// assignments live in join tables.
type Ticket struct {
	ID        int64
	UserID    ref.UserID
	RoomID    ref.RoomID
	Name      string
	Status    Status
	CreatedAt time.Time
	ClosedAt  time.Time
}

// Tickets is the repository for support tickets.
type Tickets struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// Create inserts a new ticket in status open and returns it. The room
// is attached later via SetRoom once created on the homeserver.
func (t *Tickets) Create(ctx context.Context, userID ref.UserID, name string) (*Ticket, error) {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: create ticket: %w", err)
	}
	defer t.pool.Put(conn)

	now := t.clock.Now()
	err = sqlitex.Execute(conn,
		"INSERT INTO tickets (user_id, name, status, created_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{userID.String(), name, string(StatusOpen), now.Unix()}})
	if err != nil {
		return nil, fmt.Errorf("store: create ticket for %s: %w", userID, err)
	}

	return &Ticket{
		ID:        conn.LastInsertRowID(),
		UserID:    userID,
		Name:      name,
		Status:    StatusOpen,
		CreatedAt: time.Unix(now.Unix(), 0),
	}, nil
}

// Get returns the ticket with the given id, or ErrNotFound.
func (t *Tickets) Get(ctx context.Context, id int64) (*Ticket, error) {
	return t.lookup(ctx, "id = ?", id)
}

// ByRoom returns the ticket whose room is roomID, or ErrNotFound.
func (t *Tickets) ByRoom(ctx context.Context, roomID ref.RoomID) (*Ticket, error) {
	return t.lookup(ctx, "room_id = ?", roomID.String())
}

func (t *Tickets) lookup(ctx context.Context, where string, arg any) (*Ticket, error) {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get ticket: %w", err)
	}
	defer t.pool.Put(conn)

	var ticket *Ticket
	err = sqlitex.Execute(conn,
		"SELECT id, user_id, room_id, name, status, created_at, closed_at FROM tickets WHERE "+where,
		&sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanTicket(stmt)
				if err != nil {
					return err
				}
				ticket = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get ticket: %w", err)
	}
	if ticket == nil {
		return nil, ErrNotFound
	}
	return ticket, nil
}

// SetRoom attaches the created room to the ticket.
func (t *Tickets) SetRoom(ctx context.Context, id int64, roomID ref.RoomID) error {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set ticket room: %w", err)
	}
	defer t.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE tickets SET room_id = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{roomID.String(), id}})
	if err != nil {
		return fmt.Errorf("store: set room for ticket %d: %w", id, err)
	}
	return nil
}

// SetStatus updates the ticket's lifecycle state. Closing records the
// close timestamp; reopening clears it.
func (t *Tickets) SetStatus(ctx context.Context, id int64, status Status) error {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set ticket status: %w", err)
	}
	defer t.pool.Put(conn)

	var closedAt any
	if status == StatusClosed {
		closedAt = t.clock.Now().Unix()
	}
	err = sqlitex.Execute(conn,
		"UPDATE tickets SET status = ?, closed_at = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{string(status), closedAt, id}})
	if err != nil {
		return fmt.Errorf("store: set status for ticket %d: %w", id, err)
	}
	return nil
}

// AssignStaff adds a staff assignment. Returns true if the row was
// inserted, false if the assignment already existed.
func (t *Tickets) AssignStaff(ctx context.Context, id int64, userID ref.UserID) (bool, error) {
	return assign(ctx, t.pool, "ticket_staff", "ticket_id", id, userID)
}

// AssignSupport adds a support assignment. Returns true if the row was
// inserted, false if the assignment already existed.
func (t *Tickets) AssignSupport(ctx context.Context, id int64, userID ref.UserID) (bool, error) {
	return assign(ctx, t.pool, "ticket_support", "ticket_id", id, userID)
}

// Unassign removes the user from both assignment tables.
func (t *Tickets) Unassign(ctx context.Context, id int64, userID ref.UserID) error {
	return unassign(ctx, t.pool, "ticket_staff", "ticket_support", "ticket_id", id, userID)
}

// AssignedStaff returns the staff assigned to the ticket.
func (t *Tickets) AssignedStaff(ctx context.Context, id int64) ([]ref.UserID, error) {
	return assignees(ctx, t.pool, "ticket_staff", "ticket_id", id)
}

// AssignedSupport returns the support responders assigned to the ticket.
func (t *Tickets) AssignedSupport(ctx context.Context, id int64) ([]ref.UserID, error) {
	return assignees(ctx, t.pool, "ticket_support", "ticket_id", id)
}

// ListOpen returns all tickets in status open, oldest first.
func (t *Tickets) ListOpen(ctx context.Context) ([]Ticket, error) {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list open tickets: %w", err)
	}
	defer t.pool.Put(conn)

	var tickets []Ticket
	err = sqlitex.Execute(conn,
		"SELECT id, user_id, room_id, name, status, created_at, closed_at FROM tickets WHERE status = ? ORDER BY id",
		&sqlitex.ExecOptions{
			Args: []any{string(StatusOpen)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ticket, err := scanTicket(stmt)
				if err != nil {
					return err
				}
				tickets = append(tickets, *ticket)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list open tickets: %w", err)
	}
	return tickets, nil
}

func scanTicket(stmt *sqlite.Stmt) (*Ticket, error) {
	userID, err := ref.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return nil, fmt.Errorf("store: stored ticket user_id: %w", err)
	}
	ticket := &Ticket{
		ID:        stmt.ColumnInt64(0),
		UserID:    userID,
		Name:      stmt.ColumnText(3),
		Status:    Status(stmt.ColumnText(4)),
		CreatedAt: time.Unix(stmt.ColumnInt64(5), 0),
	}
	if !stmt.ColumnIsNull(2) {
		roomID, err := ref.ParseRoomID(stmt.ColumnText(2))
		if err != nil {
			return nil, fmt.Errorf("store: stored ticket room_id: %w", err)
		}
		ticket.RoomID = roomID
	}
	if !stmt.ColumnIsNull(6) {
		ticket.ClosedAt = time.Unix(stmt.ColumnInt64(6), 0)
	}
	return ticket, nil
}

// assign inserts into an assignment join table. INSERT OR IGNORE makes
// repeat claims no-ops; conn.Changes distinguishes the two outcomes.
func assign(ctx context.Context, pool *sqlitepool.Pool, table, keyColumn string, id int64, userID ref.UserID) (bool, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: assign: %w", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO "+table+" ("+keyColumn+", user_id) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{id, userID.String()}})
	if err != nil {
		return false, fmt.Errorf("store: assign %s to %s %d: %w", userID, table, id, err)
	}
	return conn.Changes() > 0, nil
}

func unassign(ctx context.Context, pool *sqlitepool.Pool, staffTable, supportTable, keyColumn string, id int64, userID ref.UserID) error {
	conn, err := pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: unassign: %w", err)
	}
	defer pool.Put(conn)

	for _, table := range []string{staffTable, supportTable} {
		err = sqlitex.Execute(conn,
			"DELETE FROM "+table+" WHERE "+keyColumn+" = ? AND user_id = ?",
			&sqlitex.ExecOptions{Args: []any{id, userID.String()}})
		if err != nil {
			return fmt.Errorf("store: unassign %s from %s %d: %w", userID, table, id, err)
		}
	}
	return nil
}

func assignees(ctx context.Context, pool *sqlitepool.Pool, table, keyColumn string, id int64) ([]ref.UserID, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: assignees: %w", err)
	}
	defer pool.Put(conn)

	var users []ref.UserID
	err = sqlitex.Execute(conn,
		"SELECT user_id FROM "+table+" WHERE "+keyColumn+" = ? ORDER BY user_id",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				userID, err := ref.ParseUserID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("stored user_id: %w", err)
				}
				users = append(users, userID)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: assignees of %s %d: %w", table, id, err)
	}
	return users, nil
}
