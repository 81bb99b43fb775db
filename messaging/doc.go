// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for the
// helpdesk relay.
//
// The package provides two core types. [Client] is an unauthenticated
// Matrix client that handles login, returning authenticated
// [DirectSession] values. Client holds the homeserver URL and HTTP
// transport, shared across all Sessions derived from it.
//
// [DirectSession] wraps a Client with an access token for
// authenticated operations: room management (create, join, leave,
// forget, invite, kick), messaging (send events, redactions,
// reactions, room messages with pagination), state events, incremental
// sync with long-polling, media upload, profile lookups, to-device
// messages, and device key queries. [Session] is the interface the
// relay engine consumes, so tests can substitute a fake homeserver
// without HTTP.
//
// Sessions are lightweight (a pointer to the parent Client plus an
// access token in mmap-backed secret.Buffer memory). The access token
// is locked against swap and excluded from core dumps; callers must
// call Session.Close to release the protected memory.
//
// [RoomTracker] maintains a local materialized view of the rooms the
// bot occupies (joined members, pending invites, encryption flag) fed
// by /sync responses. The relay consults it to decide whether a
// destination room is ready for delivery.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, etc.) and HTTP status
// code. [IsMatrixError] tests for a specific error code. Request URLs
// are built by string concatenation rather than url.URL to avoid
// double-encoding of path segments that contain URL-encoded
// characters.
package messaging
