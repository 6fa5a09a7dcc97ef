package api

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorKind is the closed set of engine fault kinds from §7. It plays the
// role the teacher's internal/wasmruntime sentinel errors play for wazero,
// except modeled as a tag rather than distinct package-level vars, since §7
// requires embedders to branch on kind, not on error identity.
type ErrorKind uint8

const (
	TypeMismatch ErrorKind = iota
	DivideByZero
	NullReference
	UnresolvedFunction
	UnresolvedMember
	UnknownOpcode
	StackUnderflow
	InvalidRethrow
	CastError
	ModuleVerificationFailed
	Cancelled
	HostCallError
)

func (k ErrorKind) String() string {
	switch k {
	case TypeMismatch:
		return "TypeMismatch"
	case DivideByZero:
		return "DivideByZero"
	case NullReference:
		return "NullReference"
	case UnresolvedFunction:
		return "UnresolvedFunction"
	case UnresolvedMember:
		return "UnresolvedMember"
	case UnknownOpcode:
		return "UnknownOpcode"
	case StackUnderflow:
		return "StackUnderflow"
	case InvalidRethrow:
		return "InvalidRethrow"
	case CastError:
		return "CastError"
	case ModuleVerificationFailed:
		return "ModuleVerificationFailed"
	case Cancelled:
		return "Cancelled"
	case HostCallError:
		return "HostCallError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Error is the engine-level fault type described in §7/§9 ("define a single
// engine-level fault type; do not use the host language's panic/throw to
// model program-level exceptions except at the embedding boundary"). It
// implements the standard error interface and carries an optional wrapped
// cause with a captured stack trace for HostCallError.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error with no wrapped cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewErrorf is the formatted variant of NewError.
func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapHostCallError converts a failure raised by a host callable into a
// HostCallError, capturing a stack trace at the wrap site via pkg/errors so
// the embedder can see where the call that failed was invoked from.
func WrapHostCallError(name string, cause error) *Error {
	return &Error{
		Kind:    HostCallError,
		Message: fmt.Sprintf("host callable %q failed", name),
		Cause:   pkgerrors.WithStack(cause),
	}
}

// AsError reports whether err is (or wraps) an *Error of the given kind.
func AsError(err error, kind ErrorKind) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// ToException converts an *Error into an Exception Value so it can be pushed
// onto the operand stack and routed through the unwinder like any other
// thrown value (§7: "errors arising during a step are wrapped as exceptions
// pushed on the operand stack").
func (e *Error) ToException() Value {
	return Value{
		Kind: KindException,
		Ref: &Object{
			TypeName: e.Kind.String(),
			Fields: map[string]Value{
				"message": String(e.Message),
			},
		},
	}
}

// ExitCode mirrors §6's standalone exit codes, for embedders that run the VM
// as if it were a program.
type ExitCode int

const (
	ExitSuccess             ExitCode = 0
	ExitUncaughtException   ExitCode = 1
	ExitVerificationFailure ExitCode = 2
	ExitLinkerFailure       ExitCode = 3
)
