package mailbox

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies engine errors.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindRemoteUnavailable Kind = "RemoteUnavailable"
	KindRemoteRejected    Kind = "RemoteRejected"
	KindConflict          Kind = "Conflict"
	KindInvalidInput      Kind = "InvalidInput"
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrRemoteRejected    = errors.New("remote rejected")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
)

var sentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindRemoteUnavailable: ErrRemoteUnavailable,
	KindRemoteRejected:    ErrRemoteRejected,
	KindConflict:          ErrConflict,
	KindInvalidInput:      ErrInvalidInput,
}

// Error is a typed engine error.
type Error struct {
	Kind Kind
	Op   string
	// ID is the message or folder the operation targeted, if any.
	ID  string
	Err error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ID != "" {
		msg += " (" + e.ID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// E builds a typed error.
func E(kind Kind, op, id string, err error) error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// Errorf builds a typed error with a formatted cause.
func Errorf(kind Kind, op, id, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, ID: id, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. Untyped errors count as RemoteUnavailable since
// they can only come from the remote side; nil yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindRemoteUnavailable
}

// AsRemote wraps a remote-client error so that it carries a kind. Typed
// errors keep their kind; context errors and anything untyped become
// RemoteUnavailable.
func AsRemote(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return E(KindRemoteUnavailable, op, id, err)
	}
	return E(KindOf(err), op, id, err)
}
