// Package xrerr implements the closed error-kind taxonomy shared by every
// subsystem of the glasses client. Every fallible operation of the client
// library returns either nil or an *Error so callers can branch on Kind with
// errors.Is/errors.As instead of string-matching messages; the demo CLI's
// internal/config loader returns plain wrapped errors instead.
package xrerr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories the client can surface.
type Kind int

const (
	// InvalidArgument covers negative setters and non-positive timeouts.
	InvalidArgument Kind = iota
	// NetworkUnavailable means no link-local interface candidate was found.
	NetworkUnavailable
	// ConnectionFailed means the TCP connect itself failed.
	ConnectionFailed
	// ConnectionClosed means the remote end (or local Close) ended the session.
	ConnectionClosed
	// Timeout means a control request or the startup handshake exceeded its budget.
	Timeout
	// CommandRejected carries a non-zero device status code.
	CommandRejected
	// ProtocolError covers framing violations, bad varints, bad tags/lengths.
	ProtocolError
	// IoError is an unclassified transport failure.
	IoError
	// TransactionCollision means a (tx-id, magic) pair was already pending.
	TransactionCollision
	// ParseError means the config payload was not valid JSON.
	ParseError
	// SchemaValidationError means the config JSON violated an invariant; carries Path.
	SchemaValidationError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NetworkUnavailable:
		return "NetworkUnavailable"
	case ConnectionFailed:
		return "ConnectionFailed"
	case ConnectionClosed:
		return "ConnectionClosed"
	case Timeout:
		return "Timeout"
	case CommandRejected:
		return "CommandRejected"
	case ProtocolError:
		return "ProtocolError"
	case IoError:
		return "IoError"
	case TransactionCollision:
		return "TransactionCollision"
	case ParseError:
		return "ParseError"
	case SchemaValidationError:
		return "SchemaValidationError"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by the client library's packages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, may be nil

	// Status is populated for CommandRejected.
	Status int32
	// Path is populated for SchemaValidationError, e.g. "$.display.left_display.fx".
	Path string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, e.Msg, e.Path)
	}
	if e.Kind == CommandRejected {
		return fmt.Sprintf("%s: %s (status=%d)", e.Kind, e.Msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, xrerr.KindTimeout) work by comparing Kind against a
// sentinel *Error carrying only that Kind (see the package-level vars below).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Err == nil && t.Status == 0 && t.Path == "" {
		return e.Kind == t.Kind
	}
	return e == t
}

// New builds an *Error of the given kind wrapping cause (cause may be nil).
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Rejected builds a CommandRejected error carrying the device status code.
func Rejected(status int32) *Error {
	return &Error{Kind: CommandRejected, Msg: "device rejected command", Status: status}
}

// SchemaError builds a SchemaValidationError anchored at path.
func SchemaError(path, format string, args ...any) *Error {
	return &Error{Kind: SchemaValidationError, Msg: fmt.Sprintf(format, args...), Path: path}
}

// Kind-only sentinels for errors.Is matching; these carry no message.
var (
	KindInvalidArgument      = &Error{Kind: InvalidArgument}
	KindNetworkUnavailable   = &Error{Kind: NetworkUnavailable}
	KindConnectionFailed     = &Error{Kind: ConnectionFailed}
	KindConnectionClosed     = &Error{Kind: ConnectionClosed}
	KindTimeout              = &Error{Kind: Timeout}
	KindCommandRejected      = &Error{Kind: CommandRejected}
	KindProtocolError        = &Error{Kind: ProtocolError}
	KindIoError              = &Error{Kind: IoError}
	KindTransactionCollision = &Error{Kind: TransactionCollision}
	KindParseError           = &Error{Kind: ParseError}
	KindSchemaValidation     = &Error{Kind: SchemaValidationError}
)

// Of reports whether err is an *Error of the given kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
