// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/helpdesk/lib/clock"
	"github.com/bureau-foundation/helpdesk/lib/sqlitepool"
)

// ErrNotFound is returned by lookup methods when no row matches.
// Callers distinguish it with errors.Is.
var ErrNotFound = errors.New("store: not found")

// Status is the lifecycle state of a ticket or chat.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusDeleted Status = "deleted"
)

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. ":memory:" works for tests with
	// PoolSize 1.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to 4
	// if zero or negative.
	PoolSize int

	// Clock provides creation and close timestamps. Defaults to the
	// real clock.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Store is the persistence layer for the relay engine. Access entities
// through the exported repository fields.
type Store struct {
	pool *sqlitepool.Pool

	Users      *Users
	Roster     *Roster
	Tickets    *Tickets
	Chats      *Chats
	EventPairs *EventPairs
	Incoming   *IncomingEvents
}

// Open creates the store, opening (and if necessary creating) the
// SQLite database at cfg.Path. The caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.Path,
		PoolSize:  poolSize,
		Logger:    logger,
		OnConnect: applySchema,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{
		pool:       pool,
		Users:      &Users{pool: pool},
		Roster:     &Roster{pool: pool},
		Tickets:    &Tickets{pool: pool, clock: clk},
		Chats:      &Chats{pool: pool, clock: clk},
		EventPairs: &EventPairs{pool: pool},
		Incoming:   &IncomingEvents{pool: pool},
	}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// applySchema creates all tables and indexes. Runs once per pooled
// connection; every statement is IF NOT EXISTS so repeat runs are
// no-ops.
func applySchema(conn *sqlite.Conn) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS users (
			user_id             TEXT PRIMARY KEY,
			communications_room TEXT,
			active_ticket       INTEGER,
			active_chat         INTEGER
		);

		CREATE TABLE IF NOT EXISTS staff (
			user_id TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS support (
			user_id TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS tickets (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			room_id    TEXT,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open',
			created_at INTEGER NOT NULL,
			closed_at  INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_room ON tickets(room_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id, status);

		CREATE TABLE IF NOT EXISTS ticket_staff (
			ticket_id INTEGER NOT NULL,
			user_id   TEXT NOT NULL,
			PRIMARY KEY (ticket_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS ticket_support (
			ticket_id INTEGER NOT NULL,
			user_id   TEXT NOT NULL,
			PRIMARY KEY (ticket_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS chats (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id          TEXT NOT NULL,
			room_id          TEXT,
			status           TEXT NOT NULL DEFAULT 'open',
			pending_deletion INTEGER NOT NULL DEFAULT 0,
			created_at       INTEGER NOT NULL,
			closed_at        INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_chats_room ON chats(room_id);
		CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, status);

		CREATE TABLE IF NOT EXISTS chat_staff (
			chat_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (chat_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS chat_support (
			chat_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (chat_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS event_pairs (
			source_room  TEXT NOT NULL,
			source_event TEXT NOT NULL,
			clone_room   TEXT NOT NULL,
			clone_event  TEXT NOT NULL,
			PRIMARY KEY (source_room, source_event)
		);
		CREATE INDEX IF NOT EXISTS idx_event_pairs_clone
			ON event_pairs(clone_room, clone_event);

		CREATE TABLE IF NOT EXISTS incoming_events (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id  TEXT NOT NULL,
			room_id  TEXT NOT NULL,
			event_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_incoming_user ON incoming_events(user_id);
	`
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	return nil
}
