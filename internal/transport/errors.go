package transport

import "errors"

// ErrNoSuchListener indicates a dial targeted an identity with no
// registered listener (PipeNetwork only; real transports surface their
// own dial failures instead).
var ErrNoSuchListener = errors.New("transport: no such listener")

// ErrClosed indicates an operation on an already-closed Listener.
var ErrClosed = errors.New("transport: listener closed")
