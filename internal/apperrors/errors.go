// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrExternalCommand = errors.New("external command failed")
	ErrInternal        = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error    // Wrapped sentinel for errors.Is() classification
	Message  string   // Human-readable message
	Field    string   // For validation errors (e.g., "job_id")
	Resource string   // For not found/conflict/invalid state (e.g., "job")
	Op       string   // Operation that failed (e.g., "compose.run")
	Args     []string // Command vector for external command failures
	ExitCode int      // Exit status for external command failures (-1 if the process never ran)
	Stderr   string   // Captured stderr for external command failures
	Cause    error    // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel for errors.Is() classification, followed by
// the cause when there is one.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  fmt.Sprintf("%s %s: %s", resource, id, reason),
		Resource: resource,
	}
}

// InvalidState reports a malformed or missing piece of persisted state.
// Corrupt documents are reported this way rather than as a decoding failure.
func InvalidState(resource, message string, cause error) error {
	msg := message
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", message, cause)
	}
	return &Error{
		Sentinel: ErrInvalidState,
		Message:  msg,
		Resource: resource,
		Cause:    cause,
	}
}

// ExternalCommand reports a child process that exited non-zero or could not be
// spawned. exitCode is -1 when the process never ran.
func ExternalCommand(op string, args []string, exitCode int, stderr string, cause error) error {
	msg := fmt.Sprintf("%s: %s", op, strings.Join(args, " "))
	switch {
	case exitCode >= 0:
		msg = fmt.Sprintf("%s: exit status %d", msg, exitCode)
	case cause != nil:
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	if s := strings.TrimSpace(stderr); s != "" {
		msg = fmt.Sprintf("%s: %s", msg, s)
	}
	return &Error{
		Sentinel: ErrExternalCommand,
		Message:  msg,
		Op:       op,
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}
}

// Runtime reports a failed call against the container runtime API.
func Runtime(op string, cause error) error {
	return &Error{
		Sentinel: ErrExternalCommand,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		ExitCode: -1,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
