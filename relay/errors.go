// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"fmt"
)

// Kind categorizes a lifecycle or routing failure. The category
// determines how a failure is rendered back to the room the triggering
// action came from.
type Kind string

const (
	// KindNotFound: the addressed ticket, chat, user, or room is
	// unknown.
	KindNotFound Kind = "not_found"

	// KindInvalidState: the requested transition is not legal from the
	// entity's current status (e.g. closing an already-closed ticket).
	KindInvalidState Kind = "invalid_state"

	// KindConflict: the owning user already has a different active
	// ticket or chat.
	KindConflict Kind = "conflict"

	// KindPrecondition: a structural precondition failed, such as
	// deleting a room that still has members or pending invites.
	KindPrecondition Kind = "precondition"

	// KindProtocol: the homeserver rejected an operation.
	KindProtocol Kind = "protocol"

	// KindUnauthorized: the acting user lacks the required staff or
	// support role.
	KindUnauthorized Kind = "unauthorized"
)

// Error is a typed lifecycle error. Message is human-readable and safe
// to render into the room the command came from.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("relay: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// errorf builds an Error with a formatted message.
func errorf(kind Kind, format string, args ...any) *Error {
	var wrapped error
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			wrapped = err
		}
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     wrapped,
	}
}

// IsKind reports whether err is a relay Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var relayError *Error
	if errors.As(err, &relayError) {
		return relayError.Kind == kind
	}
	return false
}

// UserMessage returns the human-readable rendering of err for posting
// into the room the triggering action came from.
func UserMessage(err error) string {
	var relayError *Error
	if errors.As(err, &relayError) {
		return relayError.Message
	}
	return "internal error: " + err.Error()
}
