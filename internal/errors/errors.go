package errors

import (
	"fmt"
)

// CrystalError is the structured error type for crystalmcp.
// It provides rich context for error handling, logging, and user presentation.
type CrystalError struct {
	// Code is the unique error code (e.g., "ERR_301_NOT_INITIALIZED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, State, Queue, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried by the caller.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CrystalError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CrystalError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CrystalError.
func (e *CrystalError) Is(target error) bool {
	if t, ok := target.(*CrystalError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CrystalError) WithDetail(key, value string) *CrystalError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *CrystalError) WithSuggestion(suggestion string) *CrystalError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CrystalError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CrystalError {
	return &CrystalError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CrystalError from an existing error.
// The error's message becomes the CrystalError message.
func Wrap(code string, err error) *CrystalError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *CrystalError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StateError creates a persisted-state or I/O related error.
func StateError(message string, cause error) *CrystalError {
	return New(ErrCodeStateCorrupt, message, cause)
}

// PersistError creates a best-effort persistence failure.
// These are logged by the caller and never abort the in-memory operation.
func PersistError(message string, cause error) *CrystalError {
	return New(ErrCodePersistFailed, message, cause)
}

// NotInitializedError reports an operation invoked before Initialize.
// This is a programming error on the caller's side, not an environmental one.
func NotInitializedError(component string) *CrystalError {
	return New(ErrCodeNotInitialized,
		fmt.Sprintf("%s used before initialization", component), nil).
		WithSuggestion("call Initialize before any other operation")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *CrystalError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CrystalError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a CrystalError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CrystalError); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CrystalError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CrystalError.
// Returns empty string if not a CrystalError.
func GetCode(err error) string {
	if ce, ok := err.(*CrystalError); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CrystalError.
// Returns empty string if not a CrystalError.
func GetCategory(err error) Category {
	if ce, ok := err.(*CrystalError); ok {
		return ce.Category
	}
	return ""
}
