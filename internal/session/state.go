package session

// State is a session lifecycle state.
type State int

const (
	Idle State = iota
	Initializing
	AwaitingCode
	Ready
	Disconnected
	Failed
)

var stateNames = [...]string{
	Idle:         "idle",
	Initializing: "initializing",
	AwaitingCode: "awaiting_code",
	Ready:        "ready",
	Disconnected: "disconnected",
	Failed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Valid reports whether s is one of the six lifecycle states.
func (s State) Valid() bool {
	return s >= Idle && s <= Failed
}

// EventKind identifies a notification raised by a Channel.
type EventKind int

const (
	EventCode EventKind = iota + 1
	EventReady
	EventAuthFailure
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventCode:
		return "code"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is delivered by a Channel to the observer it was created with.
type Event struct {
	Kind    EventKind
	Payload string // login challenge for EventCode
	Reason  string // free-form detail for failures and disconnects
}

// transitions is the event-driven part of the state machine. Transitions to
// Idle happen only through reset and are not listed here.
var transitions = map[State]map[EventKind]State{
	Initializing: {
		EventCode:         AwaitingCode,
		EventReady:        Ready,
		EventAuthFailure:  Failed,
		EventDisconnected: Disconnected,
	},
	AwaitingCode: {
		EventCode:         AwaitingCode,
		EventReady:        Ready,
		EventAuthFailure:  Failed,
		EventDisconnected: Disconnected,
	},
	Ready: {
		EventDisconnected: Disconnected,
	},
}

// next returns the state reached from s on event k, and false when the event
// is not meaningful in s.
func next(s State, k EventKind) (State, bool) {
	to, ok := transitions[s][k]
	return to, ok
}
