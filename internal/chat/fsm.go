package chat

// This file implements the peer-session finite state machine as a pure
// function over a transition table -- no side effects, no Session
// dependency: table-driven, trivially testable, auditable against the
// state table in the component design.
//
// State diagram:
//
//	New --first PDU is Control/Discover--> Identified
//	New --any other PDU, EOF, or error--> Removed
//	Identified --Text/Plain--> Identified
//	Identified --Control/Discover (nickname update)--> Identified
//	Identified --Control/Discover (identity change), EOF, or error--> Removed

// State is a peer session's position in its lifecycle.
type State uint8

const (
	// StateNew is a freshly created contact that has not yet identified
	// itself with a Control/Discover PDU.
	StateNew State = iota

	// StateIdentified is a contact whose claimed identity is known.
	StateIdentified

	// StateRemoved is a terminal state: the contact has been evicted and
	// its stream closed.
	StateRemoved
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateIdentified:
		return "Identified"
	case StateRemoved:
		return "Removed"
	default:
		return "Unknown"
	}
}

// Event represents an input to the peer-session FSM.
type Event uint8

const (
	// EventDiscover is a received Control/Discover PDU.
	EventDiscover Event = iota

	// EventTextPlain is a received Text/Plain PDU.
	EventTextPlain

	// EventOtherPDU is any PDU received by a not-yet-identified contact
	// whose content type is not Control/Discover.
	EventOtherPDU

	// EventIdentityChange is a Control/Discover PDU received from an
	// already-identified contact whose onion-id or listening port no
	// longer matches the frozen identity.
	EventIdentityChange

	// EventEOF is end-of-stream on the contact's socket.
	EventEOF

	// EventProtocolError is a malformed PDU or a read/write failure.
	EventProtocolError
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventDiscover:
		return "Discover"
	case EventTextPlain:
		return "TextPlain"
	case EventOtherPDU:
		return "OtherPDU"
	case EventIdentityChange:
		return "IdentityChange"
	case EventEOF:
		return "EOF"
	case EventProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// Action is a side effect the caller must execute after a transition. The
// FSM itself never performs I/O or mutates a Contact.
type Action uint8

const (
	// ActionApplyIdentity records the peer's claimed identity (onion-id,
	// listening port, nickname) on first identification.
	ActionApplyIdentity Action = iota + 1

	// ActionUpdateNickname updates the contact's display nickname.
	ActionUpdateNickname

	// ActionRenderText renders the PDU body to the output sink.
	ActionRenderText

	// ActionCloseStream closes the contact's stream and removes it from
	// the contact list.
	ActionCloseStream
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionApplyIdentity:
		return "ApplyIdentity"
	case ActionUpdateNickname:
		return "UpdateNickname"
	case ActionRenderText:
		return "RenderText"
	case ActionCloseStream:
		return "CloseStream"
	default:
		return "Unknown"
	}
}

type stateEvent struct {
	state State
	event Event
}

type transition struct {
	newState State
	actions  []Action
}

// Result holds the outcome of applying an event to the FSM.
type Result struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied. Equal to
	// OldState when the event is ignored.
	NewState State

	// Actions lists the side effects the caller must execute, in order.
	Actions []Action

	// Changed reports whether NewState differs from OldState.
	Changed bool
}

// fsmTable is the complete peer-session FSM transition table. Unlisted
// pairs are silently ignored (event dropped, no state change).
//
//nolint:gochecknoglobals // transition table is intentionally package-level
var fsmTable = map[stateEvent]transition{
	{StateNew, EventDiscover}: {
		newState: StateIdentified,
		actions:  []Action{ActionApplyIdentity},
	},
	{StateNew, EventOtherPDU}: {
		newState: StateRemoved,
		actions:  []Action{ActionCloseStream},
	},
	{StateNew, EventEOF}: {
		newState: StateRemoved,
		actions:  []Action{ActionCloseStream},
	},
	{StateNew, EventProtocolError}: {
		newState: StateRemoved,
		actions:  []Action{ActionCloseStream},
	},

	{StateIdentified, EventTextPlain}: {
		newState: StateIdentified,
		actions:  []Action{ActionRenderText},
	},
	{StateIdentified, EventDiscover}: {
		newState: StateIdentified,
		actions:  []Action{ActionUpdateNickname},
	},
	{StateIdentified, EventIdentityChange}: {
		newState: StateRemoved,
		actions:  []Action{ActionCloseStream},
	},
	{StateIdentified, EventEOF}: {
		newState: StateRemoved,
		actions:  []Action{ActionCloseStream},
	},
	{StateIdentified, EventProtocolError}: {
		newState: StateRemoved,
		actions:  []Action{ActionCloseStream},
	},
}

// ApplyEvent applies an FSM event to the given state and returns the
// result. This is a pure function; the caller executes the returned
// actions. Pairs absent from the table are ignored: the returned state
// equals currentState and Changed is false.
func ApplyEvent(currentState State, event Event) Result {
	tr, ok := fsmTable[stateEvent{state: currentState, event: event}]
	if !ok {
		return Result{OldState: currentState, NewState: currentState}
	}

	return Result{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
