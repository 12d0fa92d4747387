// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has no infrastructure dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockNotAcquired        = errors.New("lock not acquired")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "ledger", "mascot"
	Op      string // Operation that failed, e.g., "ParseDate", "RecordSteps"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progression domain errors
var (
	ErrUserNotFound      = NewDomainError("progression", "Find", ErrNotFound, "user progression not found")
	ErrUserAlreadyExists = NewDomainError("progression", "Create", ErrAlreadyExists, "user progression already exists")
	ErrInvalidUserID     = NewDomainError("progression", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidDate       = NewDomainError("progression", "ParseDate", ErrInvalidFormat, "date must be YYYY-MM-DD")
	ErrFutureDate        = NewDomainError("progression", "ResolveDate", ErrInvalidDate, "date is after the current day")
)

// Ledger domain errors
var (
	ErrInvalidClock     = NewDomainError("ledger", "ParseClock", ErrInvalidFormat, "time must be HH:MM")
	ErrStepsOutOfRange  = NewDomainError("ledger", "Validate", ErrValueOutOfRange, "manual steps out of range")
	ErrUnknownCategory  = NewDomainError("ledger", "Validate", ErrInvalidInput, "unknown habit category")
	ErrUnknownFoodItem  = NewDomainError("ledger", "Validate", ErrInvalidInput, "unknown food item")
	ErrNegativeQuantity = NewDomainError("ledger", "Validate", ErrNegativeValue, "quantity cannot be negative")
	ErrInvalidGoals     = NewDomainError("ledger", "ValidateGoals", ErrInvalidInput, "invalid goal configuration")
)

// Mascot domain errors
var (
	ErrInvalidBody     = NewDomainError("mascot", "ClassifyBMI", ErrInvalidInput, "height and weight must be positive")
	ErrCatalogNotValid = NewDomainError("mascot", "LoadCatalog", ErrInvalidFormat, "mascot catalog is malformed")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
