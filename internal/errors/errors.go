// Package errors provides centralized error definitions and error handling
// utilities for the rangepool codebase. It defines semantic error types,
// sentinel errors, and classification helpers used across the keyspace,
// ledger, scheduler, and pool packages.
//
// The package provides two categories of errors:
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input (bad bounds, out-of-range percent)
//   - InvalidStateError: an operation applied in a state that forbids it
//     (updating or splitting a completed range)
//   - NotFoundError: resource not found (unknown range or assignment id)
//   - TimeoutError: a bounded remote operation timed out
//
// Sentinel errors cover conditions callers branch on with errors.Is, such
// as ErrNoRangeAvailable and ErrLedgerCorrupted.
//
// Usage:
//
//	err := errors.NewValidationError("searched keys exceed range total").
//		WithField("searched_keys")
//
//	var verr *errors.ValidationError
//	if errors.As(err, &verr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate operator attention.
	SeverityCritical
)

// String returns a human-readable name for the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Ledger-related sentinel errors
var (
	// ErrRangeNotFound indicates that a range id is unknown to the ledger.
	ErrRangeNotFound = New("range not found")
	// ErrLedgerCorrupted indicates that a ledger file is present but unreadable.
	// This is a fatal startup condition requiring operator intervention.
	ErrLedgerCorrupted = New("ledger data corrupted")
	// ErrRangeCompleted indicates a mutation was attempted on a completed range.
	ErrRangeCompleted = New("range already completed")
)

// Pool-related sentinel errors
var (
	// ErrNoRangeAvailable indicates no unclaimed range is currently recommended.
	ErrNoRangeAvailable = New("no range available for assignment")
	// ErrNoActiveAssignment indicates the participant holds no assignment.
	ErrNoActiveAssignment = New("no active assignment")
	// ErrAssignmentExpired indicates the assignment lapsed past its grace window.
	ErrAssignmentExpired = New("assignment expired")
	// ErrPoolUnreachable indicates the remote pool could not be contacted.
	ErrPoolUnreachable = New("pool unreachable")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input. Operations reject with a
// ValidationError before any state is mutated.
//
// Example:
//
//	err := errors.NewValidationError("percent must be within [0,100]").
//		WithField("ci_lower").WithValue(-3.2)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// InvalidStateError represents an operation applied to a resource whose
// current state forbids it, such as updating a completed range. Terminal
// states are one-way, so these errors are never retryable.
//
// Example:
//
//	err := errors.NewInvalidStateError("range", "r-3", "completed", "update")
//	fmt.Println(err) // `range 'r-3' is completed: cannot update`
type InvalidStateError struct {
	baseError
	ResourceType string
	ResourceID   string
	State        string
	Operation    string
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(resourceType, resourceID, state, operation string) *InvalidStateError {
	return &InvalidStateError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' is %s: cannot %s", resourceType, resourceID, state, operation),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
		State:        state,
		Operation:    operation,
	}
}

// WithCause adds a cause to the error.
func (e *InvalidStateError) WithCause(cause error) *InvalidStateError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *InvalidStateError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Is checks if this error matches the target.
func (e *InvalidStateError) Is(target error) bool {
	if _, ok := target.(*InvalidStateError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("range", "puzzle71-core")
//	fmt.Println(err) // "range 'puzzle71-core' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if errors.Is(target, ErrRangeNotFound) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out. Timeouts against the
// remote pool are retryable; local state is never left partially mutated.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// classifier is implemented by all errors built on baseError.
type classifier interface {
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// IsRetryable reports whether err (or any error in its chain) is transient
// and the operation may succeed on retry.
func IsRetryable(err error) bool {
	var c classifier
	if errors.As(err, &c) {
		return c.IsRetryable()
	}
	return false
}

// IsUserFacing reports whether err carries a message safe to display to
// operators without further sanitizing.
func IsUserFacing(err error) bool {
	var c classifier
	if errors.As(err, &c) {
		return c.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, or SeverityError when the error
// carries no classification.
func GetSeverity(err error) Severity {
	var c classifier
	if errors.As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}
