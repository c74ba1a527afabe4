// Package failure defines the error taxonomy shared by the sandbox, policy
// engine, tool executor, subagent runtime and conversation loop.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without string matching.
type Kind string

const (
	KindNone              Kind = ""
	KindPathEscape        Kind = "path_escape"
	KindCapabilityDenied  Kind = "capability_denied"
	KindPolicyDenied      Kind = "policy_denied"
	KindPolicyAskRejected Kind = "policy_ask_rejected"
	KindRecursionDenied   Kind = "recursion_denied"
	KindToolExecution     Kind = "tool_execution_error"
	KindTimeout           Kind = "timeout"
	KindBackend           Kind = "backend_error"
	KindTurnLimit         Kind = "turn_limit_exceeded"
	KindNotFound          Kind = "not_found"
	KindInvalidArgument   Kind = "invalid_argument"
	KindInterrupted       Kind = "interrupted"
)

// Sentinels usable with errors.Is.
var (
	ErrPathEscape        = &Error{Kind: KindPathEscape}
	ErrCapabilityDenied  = &Error{Kind: KindCapabilityDenied}
	ErrPolicyDenied      = &Error{Kind: KindPolicyDenied}
	ErrPolicyAskRejected = &Error{Kind: KindPolicyAskRejected}
	ErrRecursionDenied   = &Error{Kind: KindRecursionDenied}
	ErrToolExecution     = &Error{Kind: KindToolExecution}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrBackend           = &Error{Kind: KindBackend}
	ErrTurnLimit         = &Error{Kind: KindTurnLimit}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrInterrupted       = &Error{Kind: KindInterrupted}
)

// Error carries a Kind plus an optional message and cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	switch {
	case msg == "" && e.Err == nil:
		return string(e.Kind)
	case msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same Kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) && fe != nil {
		return fe.Kind
	}
	return KindNone
}
