package live

// State is the lifecycle state of a live session.
//
// Sessions move strictly forward through the connection states; Active and
// Interrupted alternate during a conversation; Closed and Failed are
// terminal.
type State int

const (
	// StateConnecting covers transport dial and handshake.
	StateConnecting State = iota

	// StateAwaitingReady applies to backends that require a server greeting
	// before configuration may be sent. Backends without that requirement
	// skip it.
	StateAwaitingReady

	// StateConfiguring covers the window between sending session
	// configuration and the session becoming usable.
	StateConfiguring

	// StateActive means the session accepts audio and emits events.
	StateActive

	// StateInterrupted means the user spoke over the assistant and the
	// current response is being discarded. Returns to Active when the next
	// response starts.
	StateInterrupted

	// StateClosed is the terminal state after an orderly shutdown.
	StateClosed

	// StateFailed is the terminal state after a fatal error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting-ready"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further state transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
