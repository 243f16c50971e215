package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/crystalmcp/crystalmcp/internal/validation"
)

// MaxResourceSize caps both stored documents and resource reads (1MB).
const MaxResourceSize = 1024 * 1024

// resultURIPrefix is the URI scheme under which stored analysis
// documents are exposed.
const resultURIPrefix = "crystal://results/"

// resultURI returns the resource URI for a source-relative path.
func resultURI(relPath string) string {
	return resultURIPrefix + relPath
}

// RegisterResources announces every stored analysis document as an MCP
// resource. Call after the server is created and before serving;
// documents stored later are announced by save_result as they land.
func (s *Server) RegisterResources(_ context.Context) error {
	rels, err := s.store.List()
	if err != nil {
		return fmt.Errorf("failed to list stored results: %w", err)
	}

	for _, rel := range rels {
		s.registerResultResource(rel)
	}

	s.logger.Info("registered resources", slog.Int("count", len(rels)))
	return nil
}

// registerResultResource announces one stored document. Registering the
// same path twice is a no-op.
func (s *Server) registerResultResource(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registeredDocs[relPath] {
		return
	}
	s.registeredDocs[relPath] = true

	description := fmt.Sprintf("Analysis of %s", relPath)
	if info, err := os.Stat(s.store.DocPath(relPath)); err == nil {
		description = fmt.Sprintf("Analysis of %s (%s)", relPath, humanize.Bytes(uint64(info.Size())))
	}

	s.mcp.AddResource(
		&mcp.Resource{
			Name:        path.Base(relPath),
			URI:         resultURI(relPath),
			Description: description,
			MIMEType:    "text/markdown",
		},
		s.makeResultHandler(relPath),
	)
}

// makeResultHandler creates a read handler for one stored document.
func (s *Server) makeResultHandler(relPath string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readResult(ctx, relPath)
	}
}

// readResult loads a stored document for resource reads.
func (s *Server) readResult(_ context.Context, relPath string) (*mcp.ReadResourceResult, error) {
	if !validation.IsRelPath(relPath) {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid path: %s", relPath))
	}

	if info, err := os.Stat(s.store.DocPath(relPath)); err == nil && info.Size() > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeResultTooLarge,
			Message: fmt.Sprintf("document too large: %d bytes (max %d)", info.Size(), MaxResourceSize),
		}
	}

	doc, err := s.store.Load(relPath)
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      resultURI(relPath),
				MIMEType: "text/markdown",
				Text:     string(doc),
			},
		},
	}, nil
}

// ListResources returns all stored analysis documents as resources.
func (s *Server) ListResources(_ context.Context, _ string) ([]ResourceInfo, string, error) {
	rels, err := s.store.List()
	if err != nil {
		return nil, "", MapError(err)
	}

	resources := make([]ResourceInfo, 0, len(rels))
	for _, rel := range rels {
		resources = append(resources, ResourceInfo{
			URI:      resultURI(rel),
			Name:     path.Base(rel),
			MIMEType: "text/markdown",
		})
	}

	return resources, "", nil // No pagination for now
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	if !strings.HasPrefix(uri, resultURIPrefix) {
		return nil, NewResourceNotFoundError(uri)
	}
	relPath := strings.TrimPrefix(uri, resultURIPrefix)

	if !validation.IsRelPath(relPath) {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid path: %s", relPath))
	}

	if !s.store.Has(relPath) {
		return nil, NewResourceNotFoundError(uri)
	}

	result, err := s.readResult(ctx, relPath)
	if err != nil {
		return nil, err
	}

	return &ResourceContent{
		URI:      uri,
		Content:  result.Contents[0].Text,
		MIMEType: result.Contents[0].MIMEType,
	}, nil
}
