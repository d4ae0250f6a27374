package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// PipeNetwork is an in-memory Dialer/Listener fabric backed by net.Pipe,
// used by tests to exercise the engine's handshake, discovery, and
// shutdown paths without a real socket or anonymizing transport. Peers
// register a Listener under (onionID, port) and Dial connects to it
// directly, mirroring the "dial an identity, get a byte stream" contract
// the real transport provides.
type PipeNetwork struct {
	mu        sync.Mutex
	listeners map[pipeKey]*PipeListener
}

type pipeKey struct {
	onionID string
	port    uint16
}

// NewPipeNetwork creates an empty fabric.
func NewPipeNetwork() *PipeNetwork {
	return &PipeNetwork{listeners: make(map[pipeKey]*PipeListener)}
}

// Listen registers and returns a PipeListener for (onionID, port).
func (n *PipeNetwork) Listen(onionID string, port uint16) *PipeListener {
	n.mu.Lock()
	defer n.mu.Unlock()

	l := &PipeListener{
		addr:   fmt.Sprintf("%s:%d", onionID, port),
		accept: make(chan net.Conn),
		closed: make(chan struct{}),
	}
	n.listeners[pipeKey{onionID, port}] = l
	return l
}

// Dialer returns a Dialer bound to this fabric.
func (n *PipeNetwork) Dialer() Dialer {
	return &pipeDialer{network: n}
}

type pipeDialer struct {
	network *PipeNetwork
}

func (d *pipeDialer) Dial(ctx context.Context, onionID string, port uint16) (Stream, error) {
	d.network.mu.Lock()
	l, ok := d.network.listeners[pipeKey{onionID, port}]
	d.network.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial %s:%d: %w", onionID, port, ErrNoSuchListener)
	}

	client, server := net.Pipe()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dial %s:%d: %w", onionID, port, ctx.Err())
	case <-l.closed:
		return nil, fmt.Errorf("dial %s:%d: %w", onionID, port, ErrNoSuchListener)
	case l.accept <- server:
		return client, nil
	}
}

// PipeListener is the in-memory Listener half of a PipeNetwork.
type PipeListener struct {
	addr      string
	accept    chan net.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

// Accept implements Listener.
func (l *PipeListener) Accept(ctx context.Context) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("accept: %w", ctx.Err())
	case <-l.closed:
		return nil, fmt.Errorf("accept: %w", ErrClosed)
	case conn := <-l.accept:
		return conn, nil
	}
}

// Close implements Listener.
func (l *PipeListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// Addr implements Listener.
func (l *PipeListener) Addr() string {
	return l.addr
}
