// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references
// for Matrix protocol identifiers: room IDs, event IDs, and user IDs.
//
// All constructors validate their inputs and return errors for invalid
// identifiers. Once constructed, a ref is immutable — the zero value of
// each type is not valid, and IsZero reports whether a ref is unset.
//
// Identifiers arrive from the homeserver (room creation, /sync
// responses, event sends) and from configuration; they are parsed into
// these types at the boundary so the rest of the engine never handles
// raw identifier strings.
//
// JSON marshaling uses the canonical Matrix form via
// encoding.TextMarshaler.
package ref
