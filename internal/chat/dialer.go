package chat

import (
	"context"
	"errors"
	"log/slog"
)

// DialRequest is an (onion_id, listening_port) tuple enqueued for the
// dialer worker to connect to.
type DialRequest struct {
	OnionID string
	Port    uint16
}

// runDialer serializes outbound connection attempts: it receives requests
// from reqs, dials each one, and on success registers a new Contact and
// wakes the multiplexer. Dialing runs concurrently with the multiplexer
// and never blocks its readiness wait. The worker returns when reqs is
// closed or ctx is done.
func (e *Engine) runDialer(ctx context.Context, reqs <-chan DialRequest) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-reqs:
			if !ok {
				return nil
			}
			e.handleDialRequest(ctx, req)
		}
	}
}

func (e *Engine) handleDialRequest(ctx context.Context, req DialRequest) {
	stream, err := e.dialer.Dial(ctx, req.OnionID, req.Port)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Warn("dial failed", slog.String("onion_id", req.OnionID), slog.Any("error", err))
		}
		return
	}

	h, err := e.contacts.Add(stream, false)
	if err != nil {
		e.logger.Warn("dropping dialed connection: contact list full", slog.String("onion_id", req.OnionID))
		_ = stream.Close()
		return
	}

	e.metrics.ContactAdded()
	e.startContactReader(h, stream)
	_ = e.sendDiscovery(h)
	e.wake()
}
