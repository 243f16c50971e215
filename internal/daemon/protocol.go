package daemon

// JSON-RPC 2.0 method names.
const (
	MethodStatus  = "status"
	MethodRefresh = "refresh"
	MethodStop    = "stop"
	MethodPing    = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeRefreshFailed = -32001
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// RefreshResult reports one protocol-triggered refresh pass.
type RefreshResult struct {
	SessionID  string `json:"session_id"`
	Scanned    int    `json:"scanned"`
	Added      int    `json:"added"`
	Modified   int    `json:"modified"`
	Deleted    int    `json:"deleted"`
	Queued     int    `json:"queued"`
	Cleaned    int    `json:"cleaned"`
	Recovered  bool   `json:"recovered"`
	DurationMs int64  `json:"duration_ms"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running        bool   `json:"running"`
	PID            int    `json:"pid"`
	Uptime         string `json:"uptime"`
	Root           string `json:"root"`
	SessionID      string `json:"session_id,omitempty"`
	Queued         int    `json:"queued"`
	Processed      int    `json:"processed"`
	Total          int    `json:"total"`
	RefreshCount   int64  `json:"refresh_count"`
	LastRefresh    string `json:"last_refresh,omitempty"`
	DroppedBatches int64  `json:"dropped_batches,omitempty"`
}

// StopResult acknowledges a stop request.
type StopResult struct {
	Stopping bool `json:"stopping"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
