// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyforward grants newly invited participants access to the
// encrypted history of a room. Group encryption does not retroactively
// admit devices that joined after a message was sent; a staff member
// invited mid-ticket would see only ciphertext without this step.
//
// The Forwarder enumerates every inbound group session the bot holds
// for a room and sends each recipient device a forwarded-room-key
// payload exported at the session's earliest known index, wrapped in a
// device-to-device encrypted envelope. Session storage and the
// envelope cipher belong to collaborators behind narrow interfaces;
// this package only sequences the protocol.
package keyforward
