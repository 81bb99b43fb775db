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

// User is one record per external actor the relay has seen. The
// communications room is the direct room between the bot and the user;
// zero until discovered. ActiveTicket and ActiveChat are mutually
// exclusive: at most one is non-zero at any time.
type User struct {
	ID                 ref.UserID
	CommunicationsRoom ref.RoomID
	ActiveTicket       int64
	ActiveChat         int64
}

// Users is the repository for user records.
type Users struct {
	pool *sqlitepool.Pool
}

// Ensure returns the user record for userID, creating an empty one if
// none exists. This is the entry path for first contact from an
// unknown identifier.
func (u *Users) Ensure(ctx context.Context, userID ref.UserID) (*User, error) {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: ensure user: %w", err)
	}
	defer u.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO users (user_id) VALUES (?)",
		&sqlitex.ExecOptions{Args: []any{userID.String()}})
	if err != nil {
		return nil, fmt.Errorf("store: ensure user %s: %w", userID, err)
	}
	return getUser(conn, userID)
}

// Get returns the user record for userID, or ErrNotFound.
func (u *Users) Get(ctx context.Context, userID ref.UserID) (*User, error) {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	defer u.pool.Put(conn)
	return getUser(conn, userID)
}

// ByCommunicationsRoom returns the user whose communications room is
// roomID, or ErrNotFound.
func (u *Users) ByCommunicationsRoom(ctx context.Context, roomID ref.RoomID) (*User, error) {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: user by room: %w", err)
	}
	defer u.pool.Put(conn)

	var user *User
	err = sqlitex.Execute(conn,
		"SELECT user_id, communications_room, active_ticket, active_chat FROM users WHERE communications_room = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanUser(stmt)
				if err != nil {
					return err
				}
				user = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: user by room %s: %w", roomID, err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// SetCommunicationsRoom records the user's direct room with the bot.
func (u *Users) SetCommunicationsRoom(ctx context.Context, userID ref.UserID, roomID ref.RoomID) error {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set communications room: %w", err)
	}
	defer u.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE users SET communications_room = ? WHERE user_id = ?",
		&sqlitex.ExecOptions{Args: []any{roomID.String(), userID.String()}})
	if err != nil {
		return fmt.Errorf("store: set communications room for %s: %w", userID, err)
	}
	return nil
}

// SetActiveTicket points the user's active-ticket reference at
// ticketID. Pass 0 to clear it unconditionally.
func (u *Users) SetActiveTicket(ctx context.Context, userID ref.UserID, ticketID int64) error {
	return u.setActive(ctx, userID, "active_ticket", ticketID)
}

// SetActiveChat points the user's active-chat reference at chatID.
// Pass 0 to clear it unconditionally.
func (u *Users) SetActiveChat(ctx context.Context, userID ref.UserID, chatID int64) error {
	return u.setActive(ctx, userID, "active_chat", chatID)
}

func (u *Users) setActive(ctx context.Context, userID ref.UserID, column string, id int64) error {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", column, err)
	}
	defer u.pool.Put(conn)

	var value any
	if id != 0 {
		value = id
	}
	err = sqlitex.Execute(conn,
		"UPDATE users SET "+column+" = ? WHERE user_id = ?",
		&sqlitex.ExecOptions{Args: []any{value, userID.String()}})
	if err != nil {
		return fmt.Errorf("store: set %s for %s: %w", column, userID, err)
	}
	return nil
}

// ClearActiveTicket clears the user's active-ticket reference only if
// it currently points at ticketID. A stale pointer to a different
// ticket is left untouched.
func (u *Users) ClearActiveTicket(ctx context.Context, userID ref.UserID, ticketID int64) error {
	return u.clearActive(ctx, userID, "active_ticket", ticketID)
}

// ClearActiveChat clears the user's active-chat reference only if it
// currently points at chatID.
func (u *Users) ClearActiveChat(ctx context.Context, userID ref.UserID, chatID int64) error {
	return u.clearActive(ctx, userID, "active_chat", chatID)
}

func (u *Users) clearActive(ctx context.Context, userID ref.UserID, column string, id int64) error {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: clear %s: %w", column, err)
	}
	defer u.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE users SET "+column+" = NULL WHERE user_id = ? AND "+column+" = ?",
		&sqlitex.ExecOptions{Args: []any{userID.String(), id}})
	if err != nil {
		return fmt.Errorf("store: clear %s for %s: %w", column, userID, err)
	}
	return nil
}

func getUser(conn *sqlite.Conn, userID ref.UserID) (*User, error) {
	var user *User
	err := sqlitex.Execute(conn,
		"SELECT user_id, communications_room, active_ticket, active_chat FROM users WHERE user_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{userID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanUser(stmt)
				if err != nil {
					return err
				}
				user = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get user %s: %w", userID, err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func scanUser(stmt *sqlite.Stmt) (*User, error) {
	userID, err := ref.ParseUserID(stmt.ColumnText(0))
	if err != nil {
		return nil, fmt.Errorf("store: stored user_id: %w", err)
	}
	user := &User{ID: userID}

	if !stmt.ColumnIsNull(1) {
		roomID, err := ref.ParseRoomID(stmt.ColumnText(1))
		if err != nil {
			return nil, fmt.Errorf("store: stored communications_room: %w", err)
		}
		user.CommunicationsRoom = roomID
	}
	if !stmt.ColumnIsNull(2) {
		user.ActiveTicket = stmt.ColumnInt64(2)
	}
	if !stmt.ColumnIsNull(3) {
		user.ActiveChat = stmt.ColumnInt64(3)
	}
	return user, nil
}
