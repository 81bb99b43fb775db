// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the helpdesk relay engine: room
// classification, the ticket and chat lifecycles, event routing
// between user rooms and staff-facing rooms, cross-room event
// correlation, deferred delivery for rooms whose state has not yet
// converged, and historical key forwarding for late joiners.
//
// The Engine is the orchestrator. The sync loop feeds it one parsed
// event at a time through the Handle* entry points; staff commands
// arriving in the management room and admin-socket requests both
// resolve to the same lifecycle operations.
package relay
