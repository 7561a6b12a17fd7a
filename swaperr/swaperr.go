// Package swaperr defines the typed error kinds shared across the
// swap engine. Every component that can fail in a way a caller needs
// to branch on returns one of these instead of a bare sentinel error,
// so adapter-origin failures keep their wrapped cause.
package swaperr

import "fmt"

// Kind classifies a swap engine failure.
type Kind string

const (
	InvalidInput         Kind = "InvalidInput"
	ConfigError          Kind = "ConfigError"
	FundsUnavailable     Kind = "FundsUnavailable"
	NoUtxos              Kind = "NoUtxos"
	TemplateMismatch     Kind = "TemplateMismatch"
	ScriptPubKeyMismatch Kind = "ScriptPubKeyMismatch"
	AmountTooLow         Kind = "AmountTooLow"
	DustAfterFee         Kind = "DustAfterFee"
	PreimageMismatch     Kind = "PreimageMismatch"
	RpcError             Kind = "RpcError"
	RlnError             Kind = "RlnError"
	NetworkTimeout       Kind = "NetworkTimeout"
	InternalError        Kind = "InternalError"
)

// Error is the concrete error type returned by swap engine components.
// It carries the kind the caller switches on, a human message, and an
// optional wrapped cause from the origin (RPC client, HTTP client, etc).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps an origin error, surfacing it
// verbatim via Unwrap while still giving the caller a Kind to switch on.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == kind
}
