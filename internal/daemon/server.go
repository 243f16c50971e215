package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// RequestHandler handles incoming RPC requests.
type RequestHandler interface {
	// HandleRefresh runs one refresh pass and reports it.
	HandleRefresh(ctx context.Context) (RefreshResult, error)

	// HandleStatus reports the daemon's current state.
	HandleStatus() StatusResult

	// RequestStop asks the daemon to shut down. It must not block; the
	// acknowledging response still has to go out on the live connection.
	RequestStop()
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	timeout    time.Duration
	listener   net.Listener
	handler    RequestHandler

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for the given socket path. timeout bounds
// each connection's read and write.
func NewServer(socketPath string, timeout time.Duration) *Server {
	return &Server{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket from a previous run.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon_listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("daemon_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Let in-flight requests finish before the socket goes away.
	s.wg.Wait()

	return ctx.Err()
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("daemon_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request by method.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		if s.handler == nil {
			return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
		}
		return NewSuccessResponse(req.ID, s.handler.HandleStatus())

	case MethodRefresh:
		return s.handleRefresh(ctx, req)

	case MethodStop:
		if s.handler == nil {
			return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
		}
		// The handler cancels asynchronously; this connection stays
		// alive long enough to carry the acknowledgement.
		s.handler.RequestStop()
		return NewSuccessResponse(req.ID, StopResult{Stopping: true})

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handleRefresh runs a refresh pass on behalf of a client.
func (s *Server) handleRefresh(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}

	result, err := s.handler.HandleRefresh(ctx)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeRefreshFailed, err.Error())
	}

	return NewSuccessResponse(req.ID, result)
}
