// Package errors provides structured error handling for crystalmcp.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: State and file I/O errors
//   - 3XX: Queue and session errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryState indicates persisted-state and file I/O errors.
	CategoryState Category = "STATE"
	// CategoryQueue indicates queue and session lifecycle errors.
	CategoryQueue Category = "QUEUE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// State and IO errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePerm      = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull      = "ERR_203_DISK_FULL"
	ErrCodeStateCorrupt  = "ERR_204_STATE_CORRUPT"
	ErrCodePersistFailed = "ERR_205_PERSIST_FAILED"
	ErrCodeStateDir      = "ERR_206_STATE_DIR_UNAVAILABLE"

	// Queue and session errors (300-399)
	ErrCodeNotInitialized   = "ERR_301_NOT_INITIALIZED"
	ErrCodeRecoveryRejected = "ERR_302_RECOVERY_REJECTED"
	ErrCodeClaimLock        = "ERR_303_CLAIM_LOCK_BUSY"
	ErrCodeSessionMissing   = "ERR_304_SESSION_MISSING"

	// Validation errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath    = "ERR_402_INVALID_PATH"
	ErrCodeInvalidPattern = "ERR_403_INVALID_PATTERN"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeWatchUnavailable = "ERR_502_WATCH_UNAVAILABLE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "301" from "ERR_301_NOT_INITIALIZED".
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryState
	case '3':
		return CategoryQueue
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeDiskFull:
		// Nothing downstream can persist without disk.
		return SeverityFatal
	case ErrCodeStateCorrupt, ErrCodePersistFailed:
		// Corrupt state downgrades to a fresh start; persistence is
		// best-effort. Both keep the run alive.
		return SeverityWarning
	case ErrCodeRecoveryRejected:
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Retry stays the caller's responsibility; the flag only documents that
// calling again can succeed.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeClaimLock:
		return true
	default:
		return false
	}
}
