package mandy

// Envelope types carried over the room broadcast channel. Delivery is
// best-effort and unordered; observers rely solely on the version rule.
const (
	TypeState        = "mandy/state"
	TypeStateRequest = "mandy/state_request"
	TypeControl      = "mandy/control"
	TypeError        = "mandy/error"
)

// Envelope is the wire frame for the broadcast channel. Exactly one of
// State, Command or Error is set depending on Type.
type Envelope struct {
	Type    string   `json:"type"`
	State   *State   `json:"state,omitempty"`
	Command *Command `json:"command,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// StateEnvelope wraps a state for broadcast.
func StateEnvelope(st State) Envelope {
	return Envelope{Type: TypeState, State: &st}
}

// ErrorEnvelope wraps an error message for a single subscriber.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{Type: TypeError, Error: msg}
}
