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

// Chat is an unnamed ad-hoc conversation with a user. Unlike a ticket
// it deletes itself: once closed, the chat transitions to deleted as
// soon as its room is observed empty. PendingDeletion marks a closed
// chat whose room still had members at close time, so later membership
// changes can finish the deletion.
type Chat struct {
	ID              int64
	UserID          ref.UserID
	RoomID          ref.RoomID
	Status          Status
	PendingDeletion bool
	CreatedAt       time.Time
	ClosedAt        time.Time
}

// Chats is the repository for ad-hoc chats.
type Chats struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// Create inserts a new chat in status open and returns it.
func (c *Chats) Create(ctx context.Context, userID ref.UserID) (*Chat, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: create chat: %w", err)
	}
	defer c.pool.Put(conn)

	now := c.clock.Now()
	err = sqlitex.Execute(conn,
		"INSERT INTO chats (user_id, status, created_at) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{userID.String(), string(StatusOpen), now.Unix()}})
	if err != nil {
		return nil, fmt.Errorf("store: create chat for %s: %w", userID, err)
	}

	return &Chat{
		ID:        conn.LastInsertRowID(),
		UserID:    userID,
		Status:    StatusOpen,
		CreatedAt: time.Unix(now.Unix(), 0),
	}, nil
}

// Get returns the chat with the given id, or ErrNotFound.
func (c *Chats) Get(ctx context.Context, id int64) (*Chat, error) {
	return c.lookup(ctx, "id = ?", id)
}

// ByRoom returns the chat whose room is roomID, or ErrNotFound.
func (c *Chats) ByRoom(ctx context.Context, roomID ref.RoomID) (*Chat, error) {
	return c.lookup(ctx, "room_id = ?", roomID.String())
}

func (c *Chats) lookup(ctx context.Context, where string, arg any) (*Chat, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get chat: %w", err)
	}
	defer c.pool.Put(conn)

	var chat *Chat
	err = sqlitex.Execute(conn,
		"SELECT id, user_id, room_id, status, pending_deletion, created_at, closed_at FROM chats WHERE "+where,
		&sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanChat(stmt)
				if err != nil {
					return err
				}
				chat = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get chat: %w", err)
	}
	if chat == nil {
		return nil, ErrNotFound
	}
	return chat, nil
}

// SetRoom attaches the created room to the chat.
func (c *Chats) SetRoom(ctx context.Context, id int64, roomID ref.RoomID) error {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set chat room: %w", err)
	}
	defer c.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE chats SET room_id = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{roomID.String(), id}})
	if err != nil {
		return fmt.Errorf("store: set room for chat %d: %w", id, err)
	}
	return nil
}

// SetStatus updates the chat's lifecycle state. Closing records the
// close timestamp; reopening clears it.
func (c *Chats) SetStatus(ctx context.Context, id int64, status Status) error {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set chat status: %w", err)
	}
	defer c.pool.Put(conn)

	var closedAt any
	if status == StatusClosed {
		closedAt = c.clock.Now().Unix()
	}
	err = sqlitex.Execute(conn,
		"UPDATE chats SET status = ?, closed_at = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{string(status), closedAt, id}})
	if err != nil {
		return fmt.Errorf("store: set status for chat %d: %w", id, err)
	}
	return nil
}

// SetPendingDeletion marks or clears the deferred-deletion flag on a
// closed chat whose room was not yet empty.
func (c *Chats) SetPendingDeletion(ctx context.Context, id int64, pending bool) error {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set pending deletion: %w", err)
	}
	defer c.pool.Put(conn)

	value := 0
	if pending {
		value = 1
	}
	err = sqlitex.Execute(conn,
		"UPDATE chats SET pending_deletion = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{value, id}})
	if err != nil {
		return fmt.Errorf("store: set pending deletion for chat %d: %w", id, err)
	}
	return nil
}

// AssignStaff adds a staff assignment. Returns true if the row was
// inserted, false if the assignment already existed.
func (c *Chats) AssignStaff(ctx context.Context, id int64, userID ref.UserID) (bool, error) {
	return assign(ctx, c.pool, "chat_staff", "chat_id", id, userID)
}

// AssignSupport adds a support assignment. Returns true if the row was
// inserted, false if the assignment already existed.
func (c *Chats) AssignSupport(ctx context.Context, id int64, userID ref.UserID) (bool, error) {
	return assign(ctx, c.pool, "chat_support", "chat_id", id, userID)
}

// Unassign removes the user from both assignment tables.
func (c *Chats) Unassign(ctx context.Context, id int64, userID ref.UserID) error {
	return unassign(ctx, c.pool, "chat_staff", "chat_support", "chat_id", id, userID)
}

// AssignedStaff returns the staff assigned to the chat.
func (c *Chats) AssignedStaff(ctx context.Context, id int64) ([]ref.UserID, error) {
	return assignees(ctx, c.pool, "chat_staff", "chat_id", id)
}

// AssignedSupport returns the support responders assigned to the chat.
func (c *Chats) AssignedSupport(ctx context.Context, id int64) ([]ref.UserID, error) {
	return assignees(ctx, c.pool, "chat_support", "chat_id", id)
}

func scanChat(stmt *sqlite.Stmt) (*Chat, error) {
	userID, err := ref.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return nil, fmt.Errorf("store: stored chat user_id: %w", err)
	}
	chat := &Chat{
		ID:              stmt.ColumnInt64(0),
		UserID:          userID,
		Status:          Status(stmt.ColumnText(3)),
		PendingDeletion: stmt.ColumnInt(4) != 0,
		CreatedAt:       time.Unix(stmt.ColumnInt64(5), 0),
	}
	if !stmt.ColumnIsNull(2) {
		roomID, err := ref.ParseRoomID(stmt.ColumnText(2))
		if err != nil {
			return nil, fmt.Errorf("store: stored chat room_id: %w", err)
		}
		chat.RoomID = roomID
	}
	if !stmt.ColumnIsNull(6) {
		chat.ClosedAt = time.Unix(stmt.ColumnInt64(6), 0)
	}
	return chat, nil
}
