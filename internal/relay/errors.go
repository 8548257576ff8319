package relay

import "fmt"

// Kind classifies relay failures for the HTTP layer.
type Kind int

const (
	// KindValidation marks a request missing required addressing fields.
	KindValidation Kind = iota
	// KindUnavailable marks an unreachable or unconfigured control plane.
	KindUnavailable
	// KindUpstream marks a reachable control plane that rejected the
	// request; Message carries the upstream error verbatim.
	KindUpstream
)

// Error is the relay's whole failure taxonomy. The relay never invents its
// own error text for upstream failures.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func validationErr(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func unavailableErr(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

func upstreamErr(msg string) *Error {
	return &Error{Kind: KindUpstream, Message: msg}
}
