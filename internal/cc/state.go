package cc

// State is the protocol state of a Control.
type State int

const (
	// StateNew is a control that has not been initialised.
	StateNew State = iota
	// StateIdle has nothing in flight.
	StateIdle
	// StateAwaitingAck has one delta in flight.
	StateAwaitingAck
	// StateRecovering is between a reconnection and the end of the deltas
	// the server reported as current when it accepted the connection.
	StateRecovering
	// StateClosed is terminal.
	StateClosed
)

var stateNames = map[State]string{
	StateNew:         "new",
	StateIdle:        "idle",
	StateAwaitingAck: "awaiting-ack",
	StateRecovering:  "recovering",
	StateClosed:      "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
