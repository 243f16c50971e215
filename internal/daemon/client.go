package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client connects to the daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a daemon client from the daemon's config.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodPing, &result)
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Refresh asks the daemon to run one refresh pass and reports it.
func (c *Client) Refresh(ctx context.Context) (*RefreshResult, error) {
	var result RefreshResult
	if err := c.call(ctx, MethodRefresh, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stop asks the daemon to shut down. The daemon acknowledges before it
// begins winding down; use PIDFile.IsRunning to observe the exit.
func (c *Client) Stop(ctx context.Context) error {
	var result StopResult
	return c.call(ctx, MethodStop, &result)
}

// call performs one request/response exchange on a fresh connection.
func (c *Client) call(ctx context.Context, method string, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	// The tighter of the client timeout and the context deadline wins.
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.nextID(),
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to receive response: %w", err)
	}

	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}

	if out == nil {
		return nil
	}

	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultData, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}

	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
