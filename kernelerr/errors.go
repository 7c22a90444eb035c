// Package kernelerr provides the structured error type shared by every
// subsystem of the microkernel core.
package kernelerr

import (
	"errors"
	"fmt"
)

// Code is a high-level error category, stable across subsystems so callers
// can branch on it without inspecting the message.
type Code string

const (
	CodeOutOfMemory          Code = "out of memory"
	CodeProcessLimitExceeded Code = "process limit exceeded"
	CodeInvalidAddress       Code = "invalid address"
	CodeAlignmentError       Code = "alignment error"
	CodeProtectionViolation  Code = "protection violation"

	CodeNotFound          Code = "not found"
	CodePermissionDenied  Code = "permission denied"
	CodeLimitExceeded     Code = "limit exceeded"
	CodeWouldBlock        Code = "would block"
	CodeInvalidOperation  Code = "invalid operation"
	CodeClosed            Code = "closed"

	CodeProcessNotFound       Code = "process not found"
	CodeInvalidCommand        Code = "invalid command"
	CodeSpawnFailed           Code = "spawn failed"
	CodeInvalidStateTransition Code = "invalid state transition"
	CodeExecutionError        Code = "execution error"

	CodeInvalidSignal Code = "invalid signal"
	CodeNoHandler     Code = "no handler"
	CodeWouldTerminate Code = "would terminate"

	CodeTimeout Code = "timeout"
	CodeCancelled Code = "cancelled"

	CodeAlreadyReleased Code = "already released"
	CodePoisoned        Code = "poisoned"
)

// Error is the structured error carried by every subsystem: enough
// context to diagnose without a backtrace, never a panic.
type Error struct {
	Op        string // operation that failed, e.g. "Allocate", "Schedule"
	Subsystem string // "memory", "ipc", "process", "sandbox", "scheduler"
	Pid       uint32 // 0 if not applicable
	Code      Code
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Pid != 0 {
		return fmt.Sprintf("%s: %s (op=%s pid=%d)", e.Subsystem, msg, e.Op, e.Pid)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Subsystem, msg, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Subsystem, msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code && e.Subsystem == te.Subsystem
}

// New creates a structured error for the given subsystem/operation.
func New(subsystem, op string, code Code, msg string) *Error {
	return &Error{Subsystem: subsystem, Op: op, Code: code, Msg: msg}
}

// NewForPid creates a structured error scoped to a pid.
func NewForPid(subsystem, op string, pid uint32, code Code, msg string) *Error {
	return &Error{Subsystem: subsystem, Op: op, Pid: pid, Code: code, Msg: msg}
}

// Wrap wraps an existing error with kernel context, preserving the code of
// an inner *Error if present.
func Wrap(subsystem, op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var ke *Error
	if errors.As(inner, &ke) {
		return &Error{Subsystem: subsystem, Op: op, Pid: ke.Pid, Code: ke.Code, Msg: ke.Msg, Inner: inner}
	}
	return &Error{Subsystem: subsystem, Op: op, Code: CodeExecutionError, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}
