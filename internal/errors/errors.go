// Package errors provides typed application errors carrying a machine-readable
// code and optional structured context. Persistence and precondition failures
// surface to callers unchanged; best-effort paths (notifications, audit)
// log and swallow instead of returning these.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	ErrCodeConfiguration        Code = "CONFIGURATION_ERROR"
	ErrCodeDatabase             Code = "DATABASE_ERROR"
	ErrCodeApprovalNotFound     Code = "APPROVAL_NOT_FOUND"
	ErrCodeAlreadyProcessed     Code = "WORKFLOW_ALREADY_PROCESSED"
	ErrCodeUnauthorizedApprover Code = "UNAUTHORIZED_APPROVER"
	ErrCodeDelegationFailed     Code = "DELEGATION_FAILED"
	ErrCodeEscalationFailed     Code = "ESCALATION_FAILED"
	ErrCodeNotificationFailed   Code = "NOTIFICATION_FAILED"
	ErrCodeInvalidExpenseStatus Code = "INVALID_EXPENSE_STATUS"
	ErrCodeNoPendingApproval    Code = "NO_PENDING_APPROVAL"
	ErrCodeInvalidInput         Code = "INVALID_INPUT"
	ErrCodeNotFound             Code = "NOT_FOUND"
)

// Error is the concrete error type used across the service.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates an underlying error with a code and message.
// Returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound creates a not-found error for a resource and identifier.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Context: map[string]any{"resource": resource, "id": id},
	}
}

// InvalidInput creates a validation error for a named field.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: message,
		Context: map[string]any{"field": field},
	}
}

// WithContext attaches a key/value pair and returns the same error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the Code from an error chain. Unknown errors map to
// ErrCodeDatabase when they came from persistence, but callers that need
// that distinction should wrap at the call site; here unknowns are "".
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
