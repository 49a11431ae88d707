// Package polkiterr defines the error kinds the authorization core can
// produce, independent of whichever transport eventually carries them to a
// caller (see internal/daemon for the D-Bus mapping).
package polkiterr

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an Error. See spec §7.
type Kind int

const (
	// KindNotAuthorized means the caller lacks the meta-authorization
	// required for a mutating call (grant/revoke/enumerate-other-uid).
	KindNotAuthorized Kind = iota
	// KindNoSuchAction means the action id is not registered.
	KindNoSuchAction
	// KindNoSuchSubject means the subject could not be resolved, or is stale.
	KindNoSuchSubject
	// KindInvalidRequest means the arguments were malformed, or a scope
	// upgrade was attempted where only a downgrade is permitted.
	KindInvalidRequest
	// KindUnknownCookie means an agent response referenced a nonexistent session.
	KindUnknownCookie
	// KindBrokerUnavailable means the bus or the session tracker is unreachable.
	KindBrokerUnavailable
	// KindConflict means a grant already exists with an equal scope.
	KindConflict
	// KindInternal covers helper crashes, filesystem errors and PAM stack crashes.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotAuthorized:
		return "NotAuthorized"
	case KindNoSuchAction:
		return "NoSuchAction"
	case KindNoSuchSubject:
		return "NoSuchSubject"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindUnknownCookie:
		return "UnknownCookie"
	case KindBrokerUnavailable:
		return "BrokerUnavailable"
	case KindConflict:
		return "Conflict"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a structured authorization-core error, carrying a stable Kind in
// addition to a human-readable message and optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// kindToCode maps a Kind to the grpc/codes.Code that best describes it,
// independent of the bus-facing dbus.Error name internal/daemon derives
// from the same Kind.
var kindToCode = map[Kind]codes.Code{
	KindNotAuthorized:     codes.PermissionDenied,
	KindNoSuchAction:      codes.NotFound,
	KindNoSuchSubject:     codes.NotFound,
	KindInvalidRequest:    codes.InvalidArgument,
	KindUnknownCookie:     codes.NotFound,
	KindBrokerUnavailable: codes.Unavailable,
	KindConflict:          codes.FailedPrecondition,
	KindInternal:          codes.Internal,
}

// GRPCStatus lets status.FromError recognize *Error, giving it a
// structured, transport-agnostic representation (a code plus an
// errdetails.ErrorInfo carrying the Kind) independent of however a given
// caller eventually surfaces it — the same status+errdetails shape the
// teacher's internal/daemon/state.go builds by hand for its own
// "needs confirmation" Conflict case, generalized here to every Kind.
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(kindToCode[e.Kind], e.Msg)
	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Type:     e.Kind.String(),
		Metadata: map[string]string{"kind": e.Kind.String()},
	})
	if err != nil {
		return st
	}
	return withDetails
}

// New builds an *Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind carried by err, or KindInternal if err is not (or
// does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
