package chat

import "fmt"

// Kind classifies connection-scoped failures.
type Kind int

// Error kinds. Only KindValidation leaves the connection open.
const (
	KindValidation Kind = iota + 1
	KindConflict
	KindProtocol
	KindTransport
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a relay failure scoped to one connection. Msg is the text shown
// to the client in an error frame.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind and client text so that wrapped copies of a sentinel
// still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

// Fatal reports whether the connection must be closed after the error.
func (e *Error) Fatal() bool {
	return e.Kind != KindValidation
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Msg: e.Msg, Err: cause}
}

var (
	ErrEmptyUsername  = &Error{Kind: KindValidation, Msg: "Username cannot be empty"}
	ErrUsernameTaken  = &Error{Kind: KindConflict, Msg: "Username already taken"}
	ErrNotJoined      = &Error{Kind: KindProtocol, Msg: "Invalid initial message. Please send username."}
	ErrAlreadyJoined  = &Error{Kind: KindProtocol, Msg: "Already joined"}
	ErrMalformedFrame = &Error{Kind: KindProtocol, Msg: "Invalid message format"}
	ErrUnknownType    = &Error{Kind: KindProtocol, Msg: "Unknown message type"}
	ErrSlowConsumer   = &Error{Kind: KindTransport, Msg: "Connection too slow"}
	ErrSessionClosed  = &Error{Kind: KindTransport, Msg: "Session closed"}
	ErrWriteFailed    = &Error{Kind: KindTransport, Msg: "Write failed"}
	ErrIdleTimeout    = &Error{Kind: KindTransport, Msg: "Idle timeout"}
	ErrServerShutdown = &Error{Kind: KindTransport, Msg: "Server shutting down"}
	ErrInternal       = &Error{Kind: KindInternal, Msg: "Internal server error"}
)
