package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrystalError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with CrystalError
	cerr := New(ErrCodeFileNotFound, "file not found: test.txt", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, cerr)
	assert.Equal(t, originalErr, errors.Unwrap(cerr))
	assert.True(t, errors.Is(cerr, originalErr))
}

func TestCrystalError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "state error",
			code:     ErrCodeStateCorrupt,
			message:  "queue snapshot unreadable",
			expected: "[ERR_204_STATE_CORRUPT] queue snapshot unreadable",
		},
		{
			name:     "queue misuse",
			code:     ErrCodeNotInitialized,
			message:  "queue used before initialization",
			expected: "[ERR_301_NOT_INITIALIZED] queue used before initialization",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestCrystalError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with same code
	err1 := New(ErrCodeFileNotFound, "file A not found", nil)
	err2 := New(ErrCodeFileNotFound, "file B not found", nil)

	// Then: they match by code
	assert.True(t, errors.Is(err1, err2))
}

func TestCrystalError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	// Given: two errors with different codes
	err1 := New(ErrCodeFileNotFound, "file not found", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)

	// Then: they don't match
	assert.False(t, errors.Is(err1, err2))
}

func TestCrystalError_WithDetail_AddsContext(t *testing.T) {
	// Given: a base error
	err := New(ErrCodeFileNotFound, "file not found", nil)

	// When: adding details
	err = err.WithDetail("path", "src/main.go").WithDetail("op", "stat")

	// Then: details are recorded
	assert.Equal(t, "src/main.go", err.Details["path"])
	assert.Equal(t, "stat", err.Details["op"])
}

func TestCrystalError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfig},
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeFileNotFound, CategoryState},
		{ErrCodeStateCorrupt, CategoryState},
		{ErrCodeNotInitialized, CategoryQueue},
		{ErrCodeClaimLock, CategoryQueue},
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeInvalidPattern, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
		{"garbage", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestCrystalError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeDiskFull, SeverityFatal},
		{ErrCodeFileNotFound, SeverityError},
		// Corrupt state downgrades to a fresh start instead of aborting.
		{ErrCodeStateCorrupt, SeverityWarning},
		{ErrCodePersistFailed, SeverityWarning},
		{ErrCodeClaimLock, SeverityWarning},
		{ErrCodeRecoveryRejected, SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestCrystalError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeClaimLock, true},
		{ErrCodeFileNotFound, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodeStateCorrupt, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestIsRetryable_NonCrystalErrors(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestWrap_CreatesCrystalErrorFromError(t *testing.T) {
	// Given: a standard error
	originalErr := errors.New("something went wrong")

	// When: wrapping with a code
	cerr := Wrap(ErrCodeInternal, originalErr)

	// Then: creates a proper CrystalError
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeInternal, cerr.Code)
	assert.Equal(t, "something went wrong", cerr.Message)
	assert.Equal(t, originalErr, cerr.Cause)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestConfigError_CreatesConfigCategoryError(t *testing.T) {
	err := ConfigError("invalid yaml syntax", nil)

	assert.Equal(t, CategoryConfig, err.Category)
	assert.Contains(t, err.Code, "CONFIG")
}

func TestStateError_CreatesStateCategoryError(t *testing.T) {
	err := StateError("manifest unreadable", nil)

	assert.Equal(t, CategoryState, err.Category)
	assert.Equal(t, SeverityWarning, err.Severity)
}

func TestPersistError_IsNonFatal(t *testing.T) {
	err := PersistError("cannot write queue snapshot", errors.New("read-only fs"))

	assert.False(t, IsFatal(err))
	assert.Equal(t, ErrCodePersistFailed, err.Code)
}

func TestNotInitializedError_CarriesComponentAndSuggestion(t *testing.T) {
	err := NotInitializedError("queue manager")

	assert.Equal(t, ErrCodeNotInitialized, err.Code)
	assert.Contains(t, err.Message, "queue manager")
	assert.NotEmpty(t, err.Suggestion)
}

func TestGetCode_AndGetCategory(t *testing.T) {
	err := New(ErrCodeSessionMissing, "no session", nil)

	assert.Equal(t, ErrCodeSessionMissing, GetCode(err))
	assert.Equal(t, CategoryQueue, GetCategory(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain")))
}
