package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// ListenBacklog is the minimum accept backlog required of the listening
// endpoint (see external interfaces: "listening with a backlog >= 5").
const ListenBacklog = 5

// TCPDialer dials a plain TCP connection, treating the onion-id as a
// directly resolvable host. Real onion routing is the anonymizing
// transport's job (an external collaborator); this implementation exists
// for local development. The in-process engine test harness uses
// PipeNetwork instead.
type TCPDialer struct {
	dialer net.Dialer
}

// NewTCPDialer returns a TCPDialer.
func NewTCPDialer() *TCPDialer {
	return &TCPDialer{}
}

// Dial implements Dialer.
func (d *TCPDialer) Dial(ctx context.Context, onionID string, port uint16) (Stream, error) {
	addr := net.JoinHostPort(onionID, strconv.Itoa(int(port)))
	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// TCPListener binds a fixed loopback address and accepts inbound streams.
type TCPListener struct {
	ln net.Listener
}

// NewTCPListener binds to host:port on loopback with SO_REUSEADDR set
// (mirroring the original implementation's init_global_config, which sets
// SO_REUSEADDR before bind to avoid "address already in use" on restart)
// and a backlog of at least ListenBacklog.
func NewTCPListener(ctx context.Context, host string, port uint16) (*TCPListener, error) {
	lc := net.ListenConfig{Control: setReuseAddr}

	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return &TCPListener{ln: ln}, nil
}

// Accept implements Listener. The OS accept backlog is governed by the
// platform default (in practice well above ListenBacklog); Go's net
// package does not expose a knob to lower it below the kernel default,
// which already satisfies the >= 5 requirement.
func (l *TCPListener) Accept(ctx context.Context) (Stream, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("accept: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("accept: %w", r.err)
		}
		return r.conn, nil
	}
}

// Close implements Listener.
func (l *TCPListener) Close() error {
	if err := l.ln.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// Addr implements Listener.
func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}
