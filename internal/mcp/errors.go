package mcp

import (
	"context"
	"errors"
	"fmt"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
)

// Custom MCP error codes for crystalmcp.
const (
	// ErrCodeSessionNotFound indicates no initialized session exists.
	ErrCodeSessionNotFound = -32001

	// ErrCodeClaimBusy indicates the claim store is locked by another
	// worker; the call can be retried.
	ErrCodeClaimBusy = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeResultNotFound indicates no stored result exists for a path.
	ErrCodeResultNotFound = -32004

	// ErrCodeResultTooLarge indicates a document exceeds the size cap.
	ErrCodeResultTooLarge = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Structured errors
// carry their category through; anything unrecognized becomes an
// internal error so no raw failure detail leaks onto the wire.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var ce *crystalerrors.CrystalError
	if errors.As(err, &ce) {
		return mapCrystalError(ce)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// mapCrystalError converts a CrystalError to an MCPError.
func mapCrystalError(ce *crystalerrors.CrystalError) *MCPError {
	// Carry the suggestion: it tells the worker what to do next.
	message := ce.Message
	if ce.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ce.Message, ce.Suggestion)
	}

	switch ce.Category {
	case crystalerrors.CategoryQueue:
		switch ce.Code {
		case crystalerrors.ErrCodeNotInitialized, crystalerrors.ErrCodeSessionMissing:
			// The internal suggestion names Go-side calls; the wire-level
			// remedy is the tool.
			return &MCPError{
				Code:    ErrCodeSessionNotFound,
				Message: fmt.Sprintf("%s. Call initialize_session first.", ce.Message),
			}
		case crystalerrors.ErrCodeClaimLock:
			return &MCPError{
				Code:    ErrCodeClaimBusy,
				Message: message,
			}
		default:
			return &MCPError{
				Code:    ErrCodeInternalError,
				Message: message,
			}
		}
	case crystalerrors.CategoryState:
		switch ce.Code {
		case crystalerrors.ErrCodeFileNotFound:
			return &MCPError{
				Code:    ErrCodeResultNotFound,
				Message: message,
			}
		default:
			return &MCPError{
				Code:    ErrCodeInternalError,
				Message: message,
			}
		}
	case crystalerrors.CategoryValidation:
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: message,
		}
	default: // CategoryConfig, CategoryInternal, and unknown
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: message,
		}
	}
}
