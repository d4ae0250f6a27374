package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dchat-io/dchat/internal/transport"
)

// dialQueueDepth bounds the in-process dial request queue. The queue is
// conceptually unbounded (spec: "an in-process queue"); a generous buffer
// absorbs discovery-driven fan-out without ever blocking the multiplexer,
// and an overflow is a Capacity condition for the dialer, not the engine.
const dialQueueDepth = 256

// contactEvent reports the outcome of one read on a contact's stream:
// either a successfully decoded PDU, or a terminal error (EOF or
// ErrProtocol) that ends that contact's reader goroutine.
type contactEvent struct {
	handle Handle
	pdu    *PDU
	err    error
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMetrics wires a Metrics sink. Defaults to NoopMetrics.
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithOutputSink wires where received chat messages are rendered.
// Defaults to writing "<nickname>: <body>" lines to stdout.
func WithOutputSink(o OutputSink) Option { return func(e *Engine) { e.output = o } }

// WithCommandInterpreter wires the (external) command interpreter.
// Defaults to DeclineAll, which treats every local line as a message.
func WithCommandInterpreter(c CommandInterpreter) Option {
	return func(e *Engine) { e.cmd = c }
}

// WithCapacity bounds the contact list. Zero (the default) is unbounded.
func WithCapacity(n int) Option { return func(e *Engine) { e.capacity = n } }

// WithLogger wires a structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithStateChanges wires a channel that receives every peer-session FSM
// transition. The channel must be drained by the caller or sends are
// dropped; used by tests and optional observability consumers.
func WithStateChanges(ch chan<- StateChange) Option {
	return func(e *Engine) { e.notify = ch }
}

// Engine is the multiplexer: the concurrent core that binds together the
// local input source, the listening endpoint, the dial-completion
// channel, and every contact's stream.
type Engine struct {
	self     Identity
	nickname string
	capacity int

	contacts *ContactList
	listener transport.Listener
	dialer   transport.Dialer
	cmd      CommandInterpreter
	output   OutputSink
	metrics  Metrics
	logger   *slog.Logger
	notify   chan<- StateChange

	dialQueue chan DialRequest
	wakeCh    chan struct{}
	events    chan contactEvent

	readerWG sync.WaitGroup
}

// NewEngine constructs an Engine. self and nickname are the local node's
// own identity; listener and dialer are the transport primitives the
// engine treats as external collaborators.
func NewEngine(self Identity, nickname string, listener transport.Listener, dialer transport.Dialer, opts ...Option) *Engine {
	e := &Engine{
		self:      self,
		nickname:  nickname,
		listener:  listener,
		dialer:    dialer,
		cmd:       DeclineAll{},
		output:    stdoutSink{},
		metrics:   NoopMetrics{},
		logger:    slog.Default(),
		dialQueue: make(chan DialRequest, dialQueueDepth),
		wakeCh:    make(chan struct{}, 1),
		events:    make(chan contactEvent, 64),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.contacts = NewContactList(e.capacity)
	return e
}

// Contacts returns the engine's contact list, for tests and introspection.
func (e *Engine) Contacts() *ContactList { return e.contacts }

// EnqueueDial enqueues a connect request, the way a startup auto-connect
// flag or a discovery merge does. Non-blocking: an overflowing queue drops
// the request and logs a warning, matching the Capacity error kind's
// handling policy for the dialer.
func (e *Engine) EnqueueDial(req DialRequest) {
	select {
	case e.dialQueue <- req:
	default:
		e.logger.Warn("dial queue full, dropping request",
			slog.String("onion_id", req.OnionID), slog.Any("port", req.Port))
	}
}

// Run drives the three executors -- dialer, multiplexer, and (via input)
// the input shuttle -- until shutdown. Shutdown is triggered by ctx being
// canceled (signal) or by EOF/"/exit" on input. Run always closes the
// listening endpoint and every contact stream before returning.
func (e *Engine) Run(ctx context.Context, input io.Reader) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inputCh := make(chan []byte, 1)
	stopShuttle := make(chan struct{})
	shuttle := NewInputShuttle(input, inputCh)

	go func() {
		if err := shuttle.Run(stopShuttle); err != nil {
			e.logger.Warn("input shuttle exited with error", slog.Any("error", err))
		}
	}()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return e.runDialer(gCtx, e.dialQueue)
	})

	acceptCh := make(chan transport.Stream)
	g.Go(func() error {
		return e.runAcceptLoop(gCtx, acceptCh)
	})

	g.Go(func() error {
		defer cancel()
		defer close(stopShuttle)
		return e.multiplex(gCtx, inputCh, acceptCh)
	})

	err := g.Wait()
	if err != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// runAcceptLoop accepts inbound connections and forwards them to the
// multiplexer. Unlike the original's single select(2) over one fd_set,
// Go's lack of a readiness primitive spanning arbitrary blocking calls
// means the listening endpoint gets its own goroutine, feeding the
// multiplexer's select the same way the dialer and every contact reader
// do.
func (e *Engine) runAcceptLoop(ctx context.Context, acceptCh chan<- transport.Stream) error {
	for {
		stream, err := e.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Warn("accept failed", slog.Any("error", err))
			continue
		}

		select {
		case acceptCh <- stream:
		case <-ctx.Done():
			_ = stream.Close()
			return nil
		}
	}
}

// multiplex is the engine loop: it waits for readiness on local input, the
// listening endpoint, the dial-completion/contact-change wake channel,
// and every contact's stream, and dispatches accordingly.
func (e *Engine) multiplex(ctx context.Context, inputCh <-chan []byte, acceptCh <-chan transport.Stream) error {
	defer func() {
		_ = e.listener.Close()
		e.contacts.CloseAll()
		e.drainAndWaitReaders()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-inputCh:
			if !ok {
				return nil // EOF or "/exit": graceful shutdown
			}
			e.handleLocalInput(line)

		case stream := <-acceptCh:
			e.handleAccept(stream)

		case <-e.wakeCh:
			// A dialed contact was registered; the next loop iteration's
			// select already includes it via its reader goroutine.

		case ev := <-e.events:
			e.handleContactEvent(ev)
		}
	}
}

func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// drainAndWaitReaders waits for every contact reader goroutine to exit,
// draining e.events concurrently so a reader blocked sending its final
// event (because the buffer is full) isn't stuck forever once nothing is
// left reading the channel in the main select loop.
func (e *Engine) drainAndWaitReaders() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-e.events:
			case <-stop:
				return
			}
		}
	}()

	e.readerWG.Wait()
	close(stop)
	<-done
}

// startContactReader launches the per-contact read loop. Each contact's
// stream gets its own goroutine decoding PDUs and forwarding them to the
// shared events channel -- the Go analog of including the contact's file
// descriptor in the multiplexer's select set.
func (e *Engine) startContactReader(h Handle, stream io.Reader) {
	e.readerWG.Add(1)
	go func() {
		defer e.readerWG.Done()

		br := bufio.NewReader(stream)
		for {
			pdu, err := ReadPDU(br)
			if err != nil {
				e.events <- contactEvent{handle: h, err: err}
				return
			}
			e.events <- contactEvent{handle: h, pdu: pdu}
		}
	}()
}

func (e *Engine) handleAccept(stream transport.Stream) {
	h, err := e.contacts.Add(stream, true)
	if err != nil {
		e.logger.Warn("rejecting inbound connection: contact list full")
		_ = stream.Close()
		return
	}

	e.metrics.ContactAdded()
	e.startContactReader(h, stream)
	_ = e.sendDiscovery(h)
}

// sendDiscovery emits a Control/Discover PDU enumerating the local
// contact set to a single, newly registered contact.
func (e *Engine) sendDiscovery(h Handle) error {
	c, ok := e.contacts.Get(h)
	if !ok {
		return nil
	}

	body := EncodeDiscoveryBody(e.contacts.Snapshot(), e.self)
	pdu := &PDU{
		ContentType:   ContentTypeControlDiscover,
		OnionID:       e.self.OnionID,
		ListeningPort: e.self.Port,
		Nickname:      e.nickname,
		Content:       body,
	}

	if err := WritePDU(c.Stream, pdu); err != nil {
		e.logger.Warn("send discovery failed", slog.Any("error", err))
		e.removeContact(h)
		return fmt.Errorf("send discovery: %w", err)
	}

	e.metrics.PDUSent(pdu.ContentType.String())
	return nil
}

func (e *Engine) handleLocalInput(line []byte) {
	if e.cmd.Interpret(line) {
		return
	}

	pdu := &PDU{
		ContentType:   ContentTypeTextPlain,
		OnionID:       e.self.OnionID,
		ListeningPort: e.self.Port,
		Nickname:      e.nickname,
		Content:       line,
	}
	e.broadcast(pdu)
}

// broadcast sends pdu to every identified contact. Per the design note on
// broadcasting under lock, the contact set is snapshotted under the
// mutex and writes happen outside it, so one slow peer cannot stall the
// whole engine or the list's other operations.
func (e *Engine) broadcast(pdu *PDU) {
	for _, c := range e.contacts.Snapshot() {
		if !c.Identified {
			continue
		}
		if err := WritePDU(c.Stream, pdu); err != nil {
			e.logger.Warn("broadcast write failed, removing contact",
				slog.Uint64("handle", uint64(c.Handle)), slog.Any("error", err))
			e.removeContact(c.Handle)
			continue
		}
		e.metrics.PDUSent(pdu.ContentType.String())
	}
}

// handleContactEvent dispatches one event from a contact's reader
// goroutine: either a decoded PDU or a terminal read error.
func (e *Engine) handleContactEvent(ev contactEvent) {
	c, ok := e.contacts.Get(ev.handle)
	if !ok {
		return // already removed (e.g. evicted as a duplicate)
	}

	if ev.err != nil {
		event := EventProtocolError
		if errors.Is(ev.err, io.EOF) {
			event = EventEOF
			e.logger.Info("peer disconnected", slog.Uint64("handle", uint64(c.Handle)))
		} else {
			e.metrics.PDUDropped("protocol_error")
			e.logger.Warn("protocol error", slog.Uint64("handle", uint64(c.Handle)), slog.Any("error", ev.err))
		}
		e.applyTransition(c, event, nil)
		return
	}

	e.metrics.PDUReceived(ev.pdu.ContentType.String())
	event := e.classify(c, ev.pdu)
	e.applyTransition(c, event, ev.pdu)
}

// classify maps (current contact state, received PDU) to an FSM event,
// per the component design's peer-session state table.
func (e *Engine) classify(c Contact, pdu *PDU) Event {
	if !c.Identified {
		if pdu.ContentType == ContentTypeControlDiscover {
			return EventDiscover
		}
		return EventOtherPDU
	}

	switch pdu.ContentType {
	case ContentTypeTextPlain:
		return EventTextPlain
	case ContentTypeControlDiscover:
		if pdu.OnionID != c.Identity.OnionID || pdu.ListeningPort != c.Identity.Port {
			e.metrics.IdentityViolation()
			e.logger.Error("identity violation",
				slog.Any("error", ErrIdentityViolation),
				slog.Uint64("handle", uint64(c.Handle)),
				slog.String("old_onion_id", c.Identity.OnionID),
				slog.Uint64("old_port", uint64(c.Identity.Port)),
				slog.String("new_onion_id", pdu.OnionID),
				slog.Uint64("new_port", uint64(pdu.ListeningPort)))
			return EventIdentityChange
		}
		return EventDiscover
	default:
		return EventOtherPDU
	}
}

// applyTransition runs the FSM, executes the resulting actions, and
// reports the transition on the optional notification channel.
func (e *Engine) applyTransition(c Contact, event Event, pdu *PDU) {
	result := ApplyEvent(c.State, event)

	if result.Changed {
		e.metrics.StateTransition(result.OldState.String(), result.NewState.String())
	}
	if e.notify != nil {
		select {
		case e.notify <- StateChange{Handle: c.Handle, Old: result.OldState, New: result.NewState, Actions: result.Actions}:
		default:
		}
	}

	for _, action := range result.Actions {
		e.executeAction(c, action, pdu)
	}
}

func (e *Engine) executeAction(c Contact, action Action, pdu *PDU) {
	switch action {
	case ActionApplyIdentity:
		id := Identity{OnionID: pdu.OnionID, Port: pdu.ListeningPort}
		if err := e.contacts.Identify(c.Handle, id, pdu.Nickname); err != nil {
			e.logger.Warn("identify failed", slog.Any("error", err))
			return
		}
		if dup, found := e.contacts.CheckDuplicates(c.Handle); found {
			e.logger.Info("duplicate contact detected, removing", slog.Uint64("handle", uint64(dup)))
			e.removeContact(dup)
		}
		e.mergeDiscovery(pdu)

	case ActionUpdateNickname:
		if pdu.Nickname != c.Nickname {
			e.logger.Info("nickname changed",
				slog.Uint64("handle", uint64(c.Handle)), slog.String("old", c.Nickname), slog.String("new", pdu.Nickname))
		}
		if err := e.contacts.UpdateNickname(c.Handle, pdu.Nickname); err != nil {
			e.logger.Warn("update nickname failed", slog.Any("error", err))
		}
		e.mergeDiscovery(pdu)

	case ActionRenderText:
		e.output.Message(c.Nickname, string(pdu.Content))

	case ActionCloseStream:
		e.removeContact(c.Handle)
	}
}

// mergeDiscovery parses a Control/Discover body and enqueues a dial
// request for every announced identity not already known.
func (e *Engine) mergeDiscovery(pdu *PDU) {
	entries, err := DecodeDiscoveryBody(pdu.Content)
	if err != nil {
		e.logger.Warn("malformed discovery body", slog.Any("error", err))
		e.metrics.PDUDropped("malformed_discovery")
		return
	}

	for _, id := range entries {
		if id == e.self {
			continue
		}
		if _, found := e.contacts.FindByIdentity(id); found {
			continue
		}
		e.EnqueueDial(DialRequest{OnionID: id.OnionID, Port: id.Port})
	}
}

func (e *Engine) removeContact(h Handle) {
	if err := e.contacts.Remove(h); err != nil {
		e.logger.Warn("remove contact failed", slog.Any("error", err))
	}
	e.metrics.ContactRemoved()
}

// stdoutSink is the default OutputSink, rendering "<nickname>: <body>" to
// stdout.
type stdoutSink struct{}

func (stdoutSink) Message(nickname, body string) {
	fmt.Fprintf(os.Stdout, "%s: %s\n", nickname, body)
}
