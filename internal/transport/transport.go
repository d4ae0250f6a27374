// Package transport defines the byte-stream primitives the chat engine
// relies on. The anonymizing overlay itself (Tor hidden services) is an
// external collaborator; this package only describes the "dial an
// identity, accept a connection" contract and provides a loopback TCP
// reference implementation for local development and tests.
package transport

import (
	"context"
	"io"
)

// Stream is a bidirectional byte-stream connection to one peer.
type Stream = io.ReadWriteCloser

// Dialer opens an outbound Stream to a remote identity. Implementations
// translate (onionID, port) into whatever the underlying transport needs
// -- for Tor, a SOCKS dial to the .onion address; for the loopback
// reference implementation, a plain TCP dial.
type Dialer interface {
	Dial(ctx context.Context, onionID string, port uint16) (Stream, error)
}

// Listener accepts inbound Streams on a local endpoint.
type Listener interface {
	// Accept blocks until a peer connects or ctx is done.
	Accept(ctx context.Context) (Stream, error)

	// Close closes the listening endpoint. Accept calls blocked in
	// progress return an error.
	Close() error

	// Addr returns the endpoint's local network address, for logging.
	Addr() string
}
