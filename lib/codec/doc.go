// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration.
//
// The engine uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the Matrix Client-Server API and
//     CLI output.
//   - CBOR for internal protocols: the admin Unix-socket API between
//     the relay daemon and the helpdesk CLI.
//
// This package provides the shared CBOR encoding and decoding modes so
// that both sides of the socket encode identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON. Example: the socket protocol
//     envelope types.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Example: ticket and chat
//     records returned over the socket and printed as CLI --json
//     output.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract; doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
