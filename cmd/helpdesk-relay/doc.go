// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Helpdesk-relay is the long-running relay daemon. It connects to the
// Matrix homeserver as the helpdesk bot account, classifies incoming
// traffic by room, and routes messages between end users and staff
// according to ticket and chat state held in SQLite.
//
// On startup:
//  1. Loads configuration (--config flag or HELPDESK_CONFIG).
//  2. Authenticates against the homeserver (access token or password).
//  3. Opens the SQLite store and seeds the room tracker from the
//     bot's current room memberships.
//  4. Opens the admin socket for the helpdesk CLI.
//  5. Enters the /sync long-poll loop, feeding events to the relay
//     engine until SIGINT or SIGTERM.
package main
