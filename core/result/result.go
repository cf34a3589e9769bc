// Package result defines the component-boundary return type shared by every
// message handler in the consensus core (spec §7): a handler either
// completes (possibly with a value), asks the dispatcher to replay the
// message later, or records an error.
package result

import "fmt"

// ErrorKind tags the taxonomy of local, non-recoverable failures. Kinds are
// surfaced for logging and metrics; they never change dispatcher behavior
// the way Replay does.
type ErrorKind string

const (
	BadSignature ErrorKind = "BAD_SIGNATURE"
	BadLink      ErrorKind = "BAD_LINK"
	BadRound     ErrorKind = "BAD_ROUND"
	BadHash      ErrorKind = "BAD_HASH"
	Aborted      ErrorKind = "ABORTED"
)

// Error is the concrete error value carried by Result.Err. It wraps an
// ErrorKind the way the teacher's consensus.TxError wraps an ErrorCode.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Status is the sum-type discriminant of Result.
type Status int

const (
	StatusHandled Status = iota
	StatusReplay
	StatusError
)

// Result is returned by every handler in the core. Only StatusReplay causes
// the dispatcher to re-enqueue the triggering message (spec §5, §7).
type Result struct {
	status Status
	value  any
	err    *Error
}

// Handled reports normal success, optionally carrying an output value.
func Handled(value ...any) Result {
	var v any
	if len(value) > 0 {
		v = value[0]
	}
	return Result{status: StatusHandled, value: v}
}

// Replay reports that the message's precondition is not yet met (e.g. an
// ACS round or RBC delivery this node hasn't reached); the dispatcher must
// re-enqueue the message and try again on a later tick.
func Replay() Result {
	return Result{status: StatusReplay}
}

// Err reports a local, non-recoverable failure for this message.
func Err(kind ErrorKind, format string, args ...any) Result {
	return Result{status: StatusError, err: NewError(kind, format, args...)}
}

func (r Result) IsHandled() bool { return r.status == StatusHandled }
func (r Result) IsReplay() bool  { return r.status == StatusReplay }
func (r Result) IsErr() bool     { return r.status == StatusError }

// Value returns the payload attached to a Handled result, if any.
func (r Result) Value() any { return r.value }

// Error returns the wrapped *Error for a StatusError result, or nil.
func (r Result) Error() *Error { return r.err }

func (r Result) String() string {
	switch r.status {
	case StatusHandled:
		if r.value != nil {
			return fmt.Sprintf("Handled(%v)", r.value)
		}
		return "Handled()"
	case StatusReplay:
		return "Replay()"
	case StatusError:
		return fmt.Sprintf("Err(%s)", r.err)
	default:
		return "Unknown()"
	}
}
