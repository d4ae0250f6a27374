package chat

import "errors"

// Sentinel errors for the categories defined by the engine's error-handling
// design. Callers use errors.Is/errors.As to classify a failure and decide
// how to react; see Engine's dispatch loop for the handling policy attached
// to each kind.
var (
	// ErrProtocol indicates malformed headers, an out-of-range length, a
	// short body read, or a missing required header. Never fatal to the
	// engine; the offending contact is removed.
	ErrProtocol = errors.New("chat: protocol error")

	// ErrIdentityViolation indicates a post-identification change of
	// onion-id or listening port. The contact is removed.
	ErrIdentityViolation = errors.New("chat: identity violation")

	// ErrTransport indicates a read/write/dial/accept failure.
	ErrTransport = errors.New("chat: transport error")

	// ErrCapacity indicates the contact list is full.
	ErrCapacity = errors.New("chat: contact list full")

	// ErrNotFound indicates a lookup by handle found nothing. Lookup by
	// identity (FindByIdentity) reports absence with a bool instead.
	ErrNotFound = errors.New("chat: contact not found")
)
