package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Caller rate limited
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity
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

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error carrying the time the caller
// must wait before the next request is admitted.
func ErrRateLimit(wait time.Duration) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeRateLimited,
		Message:   fmt.Sprintf("rate limit exceeded, retry in %.0fs", wait.Seconds()),
		Retryable: false,
		Details: map[string]interface{}{
			"wait_seconds": wait.Seconds(),
		},
	}
}

// ErrModelUnknown is returned for a model id absent from the registry.
func ErrModelUnknown(modelID string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeModelUnknown,
		Message:   fmt.Sprintf("model not registered: %s", modelID),
		Retryable: false,
		Details:   map[string]interface{}{"model_id": modelID},
	}
}

// ErrModelUnavailable is returned when a model is cooling down or its call failed.
func ErrModelUnavailable(modelID string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeModelUnavailable,
		Message:   fmt.Sprintf("model unavailable: %s", modelID),
		Retryable: true,
		Details:   map[string]interface{}{"model_id": modelID},
	}
}

// ErrModelCoolingDown is returned without calling the provider while a model
// sits out its cooldown after a failure. Retrying it is pointless until the
// cooldown elapses, so it is not retryable.
func ErrModelCoolingDown(modelID string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeModelUnavailable,
		Message:   fmt.Sprintf("model cooling down: %s", modelID),
		Retryable: false,
		Details:   map[string]interface{}{"model_id": modelID, "cooling_down": true},
	}
}

// ErrAnalysisFailed signals that no model produced any result.
func ErrAnalysisFailed(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeAnalysisFailed,
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

// RetryAfter returns the wait carried by a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Category != ErrCatRateLimit {
		return 0, false
	}
	secs, ok := domErr.Details["wait_seconds"].(float64)
	if !ok {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Predefined error codes
const (
	CodeRateLimited      = "RATE_LIMITED"
	CodeModelUnknown     = "MODEL_UNKNOWN"
	CodeModelUnavailable = "MODEL_UNAVAILABLE"
	CodeAnalysisFailed   = "ANALYSIS_FAILED"

	// Validation error codes
	CodeEmptyContent   = "EMPTY_CONTENT"
	CodeContentTooLong = "CONTENT_TOO_LONG"
	CodeEmptyTheme     = "EMPTY_THEME"
	CodeInvalidKind    = "INVALID_ANALYSIS_KIND"
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeEmptyCallerID  = "EMPTY_CALLER_ID"
	CodeMissingEssayID = "MISSING_ESSAY_ID"
	CodeUnknownPolicy  = "UNKNOWN_RATE_POLICY"
)

// Length limits applied to submitted essay content.
const (
	MaxParagraphLength = 2000
	MaxFullEssayLength = 10000
)
