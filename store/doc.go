// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists the helpdesk relay's entities in SQLite:
// users, the staff/support roster, tickets and chats with their
// assignment tables, relayed event-pair correlations, and incoming
// events queued for ticket backfill.
//
// One Store owns a sqlitepool.Pool; the per-entity repositories
// (Users, Roster, Tickets, Chats, EventPairs, Incoming) share it. The
// schema is applied to every new connection through the pool's
// OnConnect hook, so opening a fresh database file yields a ready
// store. All operations are single statements; callers get
// single-statement atomicity and nothing more.
package store
