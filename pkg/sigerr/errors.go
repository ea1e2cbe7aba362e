// Package sigerr defines the error taxonomy shared by the signaling codec,
// the substream state machines and the connection handler.
package sigerr

import (
	"errors"
	"fmt"
)

// Code identifies the class of a signaling failure.
type Code int

const (
	// IoError indicates a transport read or write failure.
	IoError Code = iota

	// UpgradeError indicates that substream protocol negotiation failed.
	UpgradeError

	// FormatError indicates a malformed or truncated frame, or a message
	// missing a required field.
	FormatError

	// ProtocolError indicates a message received in an unexpected state.
	// Reserved; nothing currently produces it.
	ProtocolError
)

// String returns a human-readable name for the code.
func (c Code) String() string {
	switch c {
	case IoError:
		return "IoError"
	case UpgradeError:
		return "UpgradeError"
	case FormatError:
		return "FormatError"
	case ProtocolError:
		return "ProtocolError"
	default:
		return fmt.Sprintf("Code(%d)", c)
	}
}

// Error is a classified signaling error.
type Error struct {
	// Code identifies the class of error.
	Code Code

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns a human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signaling %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("signaling %s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a signaling Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels usable with errors.Is to test for a class of failure.
var (
	ErrIo       = &Error{Code: IoError, Message: "i/o failure"}
	ErrUpgrade  = &Error{Code: UpgradeError, Message: "upgrade failure"}
	ErrFormat   = &Error{Code: FormatError, Message: "invalid message format"}
	ErrProtocol = &Error{Code: ProtocolError, Message: "protocol violation"}
)

// Io wraps a transport failure.
func Io(message string, cause error) *Error {
	return &Error{Code: IoError, Message: message, Cause: cause}
}

// Upgrade wraps a negotiation failure.
func Upgrade(message string, cause error) *Error {
	return &Error{Code: UpgradeError, Message: message, Cause: cause}
}

// Format returns a format error, optionally wrapping cause.
func Format(message string, cause error) *Error {
	return &Error{Code: FormatError, Message: message, Cause: cause}
}

// Formatf returns a format error with a formatted message.
func Formatf(format string, args ...any) *Error {
	return &Error{Code: FormatError, Message: fmt.Sprintf(format, args...)}
}

// Protocol returns a protocol error.
func Protocol(message string) *Error {
	return &Error{Code: ProtocolError, Message: message}
}

// CodeOf returns the code of the first signaling Error in err's chain.
// The second result is false when err carries no signaling Error.
func CodeOf(err error) (Code, bool) {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Code, true
	}
	return 0, false
}
