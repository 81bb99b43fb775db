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

// Roster is the repository for the staff and support authorization
// tiers. Staff hold full command permissions; support responders can
// only be assigned to tickets and chats by staff.
type Roster struct {
	pool *sqlitepool.Pool
}

// AddStaff grants the staff tier. Idempotent.
func (r *Roster) AddStaff(ctx context.Context, userID ref.UserID) error {
	return r.add(ctx, "staff", userID)
}

// AddSupport grants the support tier. Idempotent.
func (r *Roster) AddSupport(ctx context.Context, userID ref.UserID) error {
	return r.add(ctx, "support", userID)
}

func (r *Roster) add(ctx context.Context, table string, userID ref.UserID) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: add %s: %w", table, err)
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO "+table+" (user_id) VALUES (?)",
		&sqlitex.ExecOptions{Args: []any{userID.String()}})
	if err != nil {
		return fmt.Errorf("store: add %s %s: %w", table, userID, err)
	}
	return nil
}

// IsStaff reports whether the user holds the staff tier.
func (r *Roster) IsStaff(ctx context.Context, userID ref.UserID) (bool, error) {
	return r.contains(ctx, "staff", userID)
}

// IsSupport reports whether the user holds the support tier.
func (r *Roster) IsSupport(ctx context.Context, userID ref.UserID) (bool, error) {
	return r.contains(ctx, "support", userID)
}

func (r *Roster) contains(ctx context.Context, table string, userID ref.UserID) (bool, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: check %s: %w", table, err)
	}
	defer r.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn,
		"SELECT 1 FROM "+table+" WHERE user_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{userID.String()},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("store: check %s %s: %w", table, userID, err)
	}
	return found, nil
}

// ListStaff returns all staff user IDs.
func (r *Roster) ListStaff(ctx context.Context) ([]ref.UserID, error) {
	return r.list(ctx, "staff")
}

// ListSupport returns all support user IDs.
func (r *Roster) ListSupport(ctx context.Context) ([]ref.UserID, error) {
	return r.list(ctx, "support")
}

func (r *Roster) list(ctx context.Context, table string) ([]ref.UserID, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", table, err)
	}
	defer r.pool.Put(conn)

	var users []ref.UserID
	err = sqlitex.Execute(conn,
		"SELECT user_id FROM "+table+" ORDER BY user_id",
		&sqlitex.ExecOptions{
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
		return nil, fmt.Errorf("store: list %s: %w", table, err)
	}
	return users, nil
}
