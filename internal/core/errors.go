package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or malformed payload
	ErrCatConflict   ErrorCategory = "conflict"   // A remote task or migration is already active
	ErrCatRemote     ErrorCategory = "remote"     // The remote side reported a failure
	ErrCatTimeout    ErrorCategory = "timeout"    // A polling session exceeded its budget
	ErrCatNetwork    ErrorCategory = "network"    // The HTTP call itself failed
	ErrCatState      ErrorCategory = "state"      // Operation not allowed in the current workflow state
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrConflict creates a conflict error. Conflicts are resolved by the user
// (clearing the remote artifact), so they are not retryable as-is.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrRemote creates an error for a failure reported by the remote side.
func ErrRemote(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRemote,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodePollTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrNetwork creates a transport error.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      CodeTransport,
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Message returns the human readable part of err. DomainErrors yield their
// Message (plus the cause, if any) without the category/code prefix, which is
// what the timeline shows next to a failed step.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var domErr *DomainError
	if errors.As(err, &domErr) {
		if domErr.Cause != nil {
			return fmt.Sprintf("%s: %v", domErr.Message, domErr.Cause)
		}
		return domErr.Message
	}
	return err.Error()
}

// Predefined error codes
const (
	CodePendingTasks      = "PENDING_TASKS"
	CodeTaskFailed        = "TASK_FAILED"
	CodeMigrationFailed   = "MIGRATION_FAILED"
	CodeRemoteError       = "REMOTE_ERROR"
	CodePollTimeout       = "POLL_TIMEOUT"
	CodeTransport         = "TRANSPORT"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidState      = "INVALID_STATE"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotPaused         = "NOT_PAUSED"
	CodeNotInitialized    = "NOT_INITIALIZED"
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeCancelled         = "CANCELLED"
)
