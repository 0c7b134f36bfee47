package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyReviewed   = "ALREADY_REVIEWED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeMigration         = "MIGRATION_ERROR"
)

// FlowError is the structured error type for all flowguard operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// IsRetryable reports whether the failed operation may succeed if repeated.
// Only upstream (n8n API) and store failures qualify.
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeUpstream, ErrCodeStore:
		return true
	default:
		return false
	}
}
