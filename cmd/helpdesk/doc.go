// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Helpdesk is the operator CLI for the helpdesk relay daemon. It talks
// to the daemon over the admin Unix socket, one CBOR request/response
// exchange per invocation.
//
// Usage:
//
//	helpdesk tickets                       # list open tickets
//	helpdesk ticket claim 12 --user @staff:example.com
//	helpdesk ticket close 12 [--force]
//	helpdesk ticket messages 12 --limit 20
//	helpdesk chat close 3
//	helpdesk user active @alice:example.com
//
// The socket path defaults to /run/helpdesk/admin.sock and can be
// overridden with --socket on any command.
package main
