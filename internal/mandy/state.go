package mandy

import "time"

// Mode controls how actively the agent participates in the room.
type Mode string

const (
	ModeSilent   Mode = "silent"
	ModePrompted Mode = "prompted"
	ModeActive   Mode = "active"
)

// Status reflects the health of the agent process itself. It is never set
// directly by a participant; lifecycle commands drive it.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusOnline       Status = "online"
	StatusDegraded     Status = "degraded"
	StatusError        Status = "error"
)

// State is the shared runtime state of one room's Mandy agent. The version
// counter is the only ordering mechanism in the protocol: every accepted
// state-changing command bumps it, and observers adopt a candidate only if
// its version is >= their own.
type State struct {
	Version   int64      `json:"version"`
	Mode      Mode       `json:"mode"`
	Muted     bool       `json:"muted"`
	Directive string     `json:"directive"`
	LockedBy  string     `json:"lockedBy,omitempty"`
	UpdatedBy string     `json:"updatedBy,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Status    Status     `json:"status"`

	// PendingReason is a local UI marker for an in-flight command. It is
	// never authoritative and never transmitted inbound; normalization
	// always clears it.
	PendingReason string `json:"pendingReason,omitempty"`
}

// Initial is the state a fresh agent starts from.
func Initial() State {
	return State{
		Version: 0,
		Mode:    ModeSilent,
		Muted:   true,
		Status:  StatusDisconnected,
	}
}

func validMode(m Mode) bool {
	switch m {
	case ModeSilent, ModePrompted, ModeActive:
		return true
	}
	return false
}

func validStatus(s Status) bool {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusOnline, StatusDegraded, StatusError:
		return true
	}
	return false
}

// Normalized returns a copy of s with out-of-enum fields replaced by their
// defaults, a negative version clamped to zero, and PendingReason cleared.
// It is idempotent.
func (s State) Normalized() State {
	if s.Version < 0 {
		s.Version = 0
	}
	if !validMode(s.Mode) {
		s.Mode = ModeSilent
	}
	if !validStatus(s.Status) {
		s.Status = StatusDisconnected
	}
	s.PendingReason = ""
	return s
}

// Normalize builds a well-formed State from an arbitrary decoded JSON
// payload. Absent or wrong-typed fields fall back to defaults; well-typed
// fields are preserved verbatim. It is total (never fails) and idempotent
// when composed with marshalling back to a payload.
func Normalize(payload map[string]any) State {
	st := Initial()
	if payload == nil {
		return st
	}
	if v, ok := asInt64(payload["version"]); ok && v >= 0 {
		st.Version = v
	}
	if m, ok := payload["mode"].(string); ok && validMode(Mode(m)) {
		st.Mode = Mode(m)
	}
	if b, ok := payload["muted"].(bool); ok {
		st.Muted = b
	}
	if d, ok := payload["directive"].(string); ok {
		st.Directive = d
	}
	if l, ok := payload["lockedBy"].(string); ok {
		st.LockedBy = l
	}
	if u, ok := payload["updatedBy"].(string); ok {
		st.UpdatedBy = u
	}
	if raw, ok := payload["updatedAt"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			st.UpdatedAt = &ts
		}
	}
	if s, ok := payload["status"].(string); ok && validStatus(Status(s)) {
		st.Status = Status(s)
	}
	// pendingReason is deliberately ignored: pending state is a local
	// concern of whichever UI set it.
	return st
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64: // encoding/json default for numbers
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
