// Package mcp implements the Model Context Protocol (MCP) server for
// crystalmcp. It bridges AI workers (Claude Code, Cursor) with the
// repository's processing queue: workers initialize a session, claim
// files one at a time, and store analysis documents back.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/crystalmcp/crystalmcp/internal/config"
	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/pipeline"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/results"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/ui"
	"github.com/crystalmcp/crystalmcp/pkg/version"
)

// Server is the MCP server for crystalmcp. One Server serves one
// repository; the queue and result store it wraps are already safe for
// concurrent use, so tool handlers run without a server-wide lock.
type Server struct {
	mcp      *mcp.Server
	scanner  *scanner.Scanner
	detector *manifest.Detector
	queue    *queue.Manager
	store    *results.Store
	config   *config.Config
	rootPath string
	logger   *slog.Logger

	// registeredDocs tracks which result resources have been announced,
	// so re-saving a document does not register its URI twice.
	mu             sync.Mutex
	registeredDocs map[string]bool
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// NewServer creates a new MCP server for the repository at rootPath.
// The scanner, detector, queue, and store must already be rooted at the
// same repository.
func NewServer(scn *scanner.Scanner, detector *manifest.Detector, q *queue.Manager, store *results.Store, cfg *config.Config, rootPath string) (*Server, error) {
	if scn == nil {
		return nil, errors.New("scanner is required")
	}
	if detector == nil {
		return nil, errors.New("change detector is required")
	}
	if q == nil {
		return nil, errors.New("queue manager is required")
	}
	if store == nil {
		return nil, errors.New("result store is required")
	}
	if rootPath == "" {
		return nil, errors.New("repository root is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		scanner:        scn,
		detector:       detector,
		queue:          q,
		store:          store,
		config:         cfg,
		rootPath:       rootPath,
		logger:         slog.Default(),
		registeredDocs: make(map[string]bool),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "CrystalMCP",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "CrystalMCP", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "initialize_session", Description: descInitializeSession},
		{Name: "next_file", Description: descNextFile},
		{Name: "mark_processed", Description: descMarkProcessed},
		{Name: "save_result", Description: descSaveResult},
		{Name: "get_progress", Description: descGetProgress},
		{Name: "detect_changes", Description: descDetectChanges},
		{Name: "cleanup_stale", Description: descCleanupStale},
		{Name: "get_coverage", Description: descGetCoverage},
		{Name: "clear_session", Description: descClearSession},
	}
}

// Tool descriptions, shared between registration and ListTools so the
// two surfaces cannot drift.
const (
	descInitializeSession = "Scan the repository, detect changes since the last pass, and seed the work queue. Recovers a recent interrupted session instead of restarting it. Call this once before requesting files."
	descNextFile          = "Claim the next file to analyze, highest priority first. Returns available=false once nothing claimable remains. Claims expire, so files held by a crashed worker return to the queue."
	descMarkProcessed     = "Mark a claimed file as processed without storing a document. Prefer save_result, which stores the analysis and marks the file in one call."
	descSaveResult        = "Store the analysis document for a file and mark it processed. The document becomes readable as a crystal://results/ resource."
	descGetProgress       = "Report session progress: counts, percentage, per-category breakdown, the file currently being processed, and an ETA from the running average."
	descDetectChanges     = "Re-scan the repository and diff content hashes against the manifest. Reports added, modified, and deleted files without touching the queue."
	descCleanupStale      = "Delete stored results whose source files are gone. Pass explicit paths, or pass none to sweep every result whose source no longer exists."
	descGetCoverage       = "Report how much of the tracked tree has stored analysis: tracked files, files with results, percentage, and how many results have gone stale."
	descClearSession      = "Drop the current session and its snapshot. The manifest and stored results survive; the next initialize_session starts a fresh queue."
)

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "initialize_session",
		Description: descInitializeSession,
	}, s.mcpInitializeSessionHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "next_file",
		Description: descNextFile,
	}, s.mcpNextFileHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "mark_processed",
		Description: descMarkProcessed,
	}, s.mcpMarkProcessedHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "save_result",
		Description: descSaveResult,
	}, s.mcpSaveResultHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_progress",
		Description: descGetProgress,
	}, s.mcpGetProgressHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "detect_changes",
		Description: descDetectChanges,
	}, s.mcpDetectChangesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cleanup_stale",
		Description: descCleanupStale,
	}, s.mcpCleanupStaleHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_coverage",
		Description: descGetCoverage,
	}, s.mcpGetCoverageHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_session",
		Description: descClearSession,
	}, s.mcpClearSessionHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 9))
}

// CallTool invokes a tool by name with the given arguments. It shares
// the typed tool implementations with the SDK handlers; arguments are
// decoded the same way the stdio transport decodes them.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, NewInvalidParamsError(fmt.Sprintf("arguments are not encodable: %v", err))
	}

	decode := func(into any) error {
		if err := json.Unmarshal(data, into); err != nil {
			return NewInvalidParamsError(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		}
		return nil
	}

	switch name {
	case "initialize_session":
		var in InitializeSessionInput
		if err := decode(&in); err != nil {
			return nil, err
		}
		return s.doInitializeSession(ctx, in)
	case "next_file":
		return s.doNextFile(ctx)
	case "mark_processed":
		var in MarkProcessedInput
		if err := decode(&in); err != nil {
			return nil, err
		}
		return s.doMarkProcessed(ctx, in)
	case "save_result":
		var in SaveResultInput
		if err := decode(&in); err != nil {
			return nil, err
		}
		return s.doSaveResult(ctx, in)
	case "get_progress":
		return s.doGetProgress(ctx)
	case "detect_changes":
		return s.doDetectChanges(ctx)
	case "cleanup_stale":
		var in CleanupStaleInput
		if err := decode(&in); err != nil {
			return nil, err
		}
		return s.doCleanupStale(ctx, in)
	case "get_coverage":
		return s.doGetCoverage(ctx)
	case "clear_session":
		return s.doClearSession(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// mcpInitializeSessionHandler is the MCP SDK handler for initialize_session.
func (s *Server) mcpInitializeSessionHandler(ctx context.Context, _ *mcp.CallToolRequest, input InitializeSessionInput) (
	*mcp.CallToolResult,
	*InitializeSessionOutput,
	error,
) {
	out, err := s.doInitializeSession(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpNextFileHandler is the MCP SDK handler for next_file.
func (s *Server) mcpNextFileHandler(ctx context.Context, _ *mcp.CallToolRequest, _ NextFileInput) (
	*mcp.CallToolResult,
	*NextFileOutput,
	error,
) {
	out, err := s.doNextFile(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpMarkProcessedHandler is the MCP SDK handler for mark_processed.
func (s *Server) mcpMarkProcessedHandler(ctx context.Context, _ *mcp.CallToolRequest, input MarkProcessedInput) (
	*mcp.CallToolResult,
	*MarkProcessedOutput,
	error,
) {
	out, err := s.doMarkProcessed(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpSaveResultHandler is the MCP SDK handler for save_result.
func (s *Server) mcpSaveResultHandler(ctx context.Context, _ *mcp.CallToolRequest, input SaveResultInput) (
	*mcp.CallToolResult,
	*SaveResultOutput,
	error,
) {
	out, err := s.doSaveResult(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpGetProgressHandler is the MCP SDK handler for get_progress.
func (s *Server) mcpGetProgressHandler(ctx context.Context, _ *mcp.CallToolRequest, _ GetProgressInput) (
	*mcp.CallToolResult,
	*ProgressOutput,
	error,
) {
	out, err := s.doGetProgress(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpDetectChangesHandler is the MCP SDK handler for detect_changes.
func (s *Server) mcpDetectChangesHandler(ctx context.Context, _ *mcp.CallToolRequest, _ DetectChangesInput) (
	*mcp.CallToolResult,
	*DetectChangesOutput,
	error,
) {
	out, err := s.doDetectChanges(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpCleanupStaleHandler is the MCP SDK handler for cleanup_stale.
func (s *Server) mcpCleanupStaleHandler(ctx context.Context, _ *mcp.CallToolRequest, input CleanupStaleInput) (
	*mcp.CallToolResult,
	*CleanupStaleOutput,
	error,
) {
	out, err := s.doCleanupStale(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpGetCoverageHandler is the MCP SDK handler for get_coverage.
func (s *Server) mcpGetCoverageHandler(ctx context.Context, _ *mcp.CallToolRequest, _ GetCoverageInput) (
	*mcp.CallToolResult,
	*CoverageOutput,
	error,
) {
	out, err := s.doGetCoverage(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpClearSessionHandler is the MCP SDK handler for clear_session.
func (s *Server) mcpClearSessionHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ClearSessionInput) (
	*mcp.CallToolResult,
	*ClearSessionOutput,
	error,
) {
	out, err := s.doClearSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("root", s.rootPath))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server stops when its context is canceled; the queue and
	// store persist through their own writes and need no teardown.
	return nil
}

// scanOptions builds scanner options from the server configuration plus
// any per-call exclude patterns.
func (s *Server) scanOptions(extraExcludes []string) *scanner.ScanOptions {
	excludes := make([]string, 0, len(s.config.Paths.Exclude)+len(extraExcludes))
	excludes = append(excludes, s.config.Paths.Exclude...)
	excludes = append(excludes, extraExcludes...)

	return &scanner.ScanOptions{
		RootDir:          s.rootPath,
		IncludePatterns:  s.config.Paths.Include,
		ExcludePatterns:  excludes,
		IgnoreFile:       s.config.Scanner.IgnoreFile,
		RespectGitignore: s.config.RespectGitignore(),
		MaxFileSize:      s.config.Scanner.MaxFileSize,
		MaxFiles:         s.config.Scanner.MaxFiles,
		Workers:          s.config.Performance.HashWorkers,
	}
}

// refresher builds a silent refresh pipeline over the server's
// collaborators. Progress rendering goes nowhere: stdout belongs to the
// JSON-RPC transport.
func (s *Server) refresher(extraExcludes []string) (*pipeline.Refresher, error) {
	opts := s.scanOptions(extraExcludes)

	deps := pipeline.Dependencies{
		Scanner:  s.scanner,
		Detector: s.detector,
		Queue:    s.queue,
		Renderer: ui.NewPlainRenderer(ui.NewConfig(io.Discard, ui.WithForcePlain(true))),
	}
	cfg := pipeline.Config{
		Root:             opts.RootDir,
		IncludePatterns:  opts.IncludePatterns,
		ExcludePatterns:  opts.ExcludePatterns,
		IgnoreFile:       opts.IgnoreFile,
		RespectGitignore: opts.RespectGitignore,
		MaxFileSize:      opts.MaxFileSize,
		MaxFiles:         opts.MaxFiles,
		Workers:          opts.Workers,
	}
	return pipeline.NewRefresher(deps, cfg)
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
