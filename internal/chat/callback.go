package chat

// OutputSink renders chat events for the local user. The terminal
// rendering layer itself is an external collaborator (see scope); the
// engine only needs somewhere to deliver rendered chat lines.
type OutputSink interface {
	// Message renders a received chat line as "<nickname>: <body>".
	Message(nickname, body string)
}

// StateChange reports one peer-session FSM transition, for logging and
// the optional notification channel consumers (tests, UI) may subscribe
// to.
type StateChange struct {
	Handle  Handle
	Old     State
	New     State
	Actions []Action
}

// CommandInterpreter turns a local input line into an engine action,
// returning true if it handled the line as a command (in which case the
// engine does not broadcast it as a Text/Plain message). The real command
// interpreter is an external collaborator (see scope); DeclineAll is the
// default when none is wired in.
type CommandInterpreter interface {
	Interpret(line []byte) (handled bool)
}

// DeclineAll is a CommandInterpreter that treats every line as a chat
// message, never as a command.
type DeclineAll struct{}

// Interpret implements CommandInterpreter.
func (DeclineAll) Interpret([]byte) bool { return false }
