// Package mcperr defines the gateway-wide error taxonomy (spec §7) and its
// mapping onto MCP/JSON-RPC error objects.
package mcperr

import (
	"errors"
	"fmt"
)

// Kind enumerates the stable error categories surfaced to clients and used
// to decide retry policy. Kind values are not MCP wire codes themselves;
// Code() maps a Kind to a stable numeric code per spec §7.
type Kind string

const (
	KindParse        Kind = "parse"
	KindProtocol     Kind = "protocol"
	KindNotFound     Kind = "not-found"
	KindAuth         Kind = "auth"
	KindConfig       Kind = "config"
	KindSubstitution Kind = "substitution"
	KindTimeout      Kind = "timeout"
	KindBackend      Kind = "backend"
	KindTransport    Kind = "transport"
	KindCancelled    Kind = "cancelled"
	KindConflict     Kind = "conflict"
)

// JSON-RPC framing codes (spec §6/§7); these are emitted by transport
// frontends directly, before an Error below is ever constructed.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
)

// codeByKind assigns a stable MCP error code per taxonomy entry. Framing
// errors keep the JSON-RPC reserved range; everything else uses a gateway
// range (-32000 family) consistent with JSON-RPC server-error reservation.
var codeByKind = map[Kind]int{
	KindParse:        CodeParseError,
	KindProtocol:     CodeInvalidRequest,
	KindNotFound:     -32001,
	KindAuth:         -32002,
	KindConfig:       -32003,
	KindSubstitution: -32004,
	KindTimeout:      -32005,
	KindBackend:      -32006,
	KindTransport:    -32007,
	KindCancelled:    -32008,
	KindConflict:     -32009,
}

// Error is the concrete error type every core subsystem returns. It
// implements error and exposes Data fields for the `data.kind` MCP
// convention described in spec §7.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]interface{}
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Code returns the stable MCP numeric code for this error's kind.
func (e *Error) Code() int { return Code(e.Kind) }

// Code maps a Kind to its stable MCP numeric error code.
func Code(k Kind) int {
	if c, ok := codeByKind[k]; ok {
		return c
	}
	return -32000
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: cause}
}

// WithData attaches machine-readable data to the error and returns it.
func (e *Error) WithData(data map[string]interface{}) *Error {
	e.Data = data
	return e
}

// Retryable reports whether the recovery policy (spec §7) allows a retry
// for this kind. Parse/protocol/config/substitution/auth/not-found/
// conflict/cancelled are never retried; backend and transport errors are
// retried per the routing descriptor's policy; timeout is retried only
// when the underlying agent is idempotent (decided by the caller).
func Retryable(k Kind) bool {
	switch k {
	case KindBackend, KindTransport:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from err, defaulting to KindBackend when err is
// non-nil but not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindBackend
}
