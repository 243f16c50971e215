package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/results"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/validation"
)

// InitializeSessionInput defines the input schema for initialize_session.
type InitializeSessionInput struct {
	ExcludePatterns []string `json:"exclude_patterns,omitempty" jsonschema:"additional glob patterns to exclude from this session, e.g. vendor/** or *.min.js"`
}

// InitializeSessionOutput defines the output schema for initialize_session.
type InitializeSessionOutput struct {
	SessionID string `json:"session_id" jsonschema:"identifier of the seeded or recovered session"`
	Queued    int    `json:"queued" jsonschema:"files waiting to be processed"`
	Scanned   int    `json:"scanned" jsonschema:"files discovered by the scan"`
	Added     int    `json:"added" jsonschema:"files new since the last pass"`
	Modified  int    `json:"modified" jsonschema:"files whose content changed since the last pass"`
	Deleted   int    `json:"deleted" jsonschema:"tracked files that vanished since the last pass"`
	Cleaned   int    `json:"cleaned" jsonschema:"stale results removed for deleted files"`
	Recovered bool   `json:"recovered" jsonschema:"true when an interrupted session was resumed"`
}

// NextFileInput defines the input schema for next_file (no parameters).
type NextFileInput struct{}

// FileInfo describes one claimed file.
type FileInfo struct {
	Path            string `json:"path" jsonschema:"path relative to the repository root"`
	AbsPath         string `json:"abs_path" jsonschema:"absolute path on disk"`
	Size            int64  `json:"size" jsonschema:"file size in bytes"`
	Category        string `json:"category" jsonschema:"file category: config, source, test, docs, or other"`
	Language        string `json:"language,omitempty" jsonschema:"detected language, empty when unknown"`
	Priority        int    `json:"priority" jsonschema:"processing priority, 0-100"`
	EstimatedTokens int    `json:"estimated_tokens" jsonschema:"approximate token cost of processing the file"`
}

// NextFileOutput defines the output schema for next_file.
type NextFileOutput struct {
	File      *FileInfo `json:"file,omitempty" jsonschema:"the claimed file, absent when the queue is drained"`
	Available bool      `json:"available" jsonschema:"false once nothing claimable remains"`
}

// MarkProcessedInput defines the input schema for mark_processed.
type MarkProcessedInput struct {
	Path string `json:"path" jsonschema:"repository-relative path of the processed file"`
}

// MarkProcessedOutput defines the output schema for mark_processed.
type MarkProcessedOutput struct {
	Path      string `json:"path" jsonschema:"the path that was marked"`
	Processed int    `json:"processed" jsonschema:"files processed so far this session"`
	Remaining int    `json:"remaining" jsonschema:"files still pending"`
}

// SaveResultInput defines the input schema for save_result.
type SaveResultInput struct {
	Path    string `json:"path" jsonschema:"repository-relative path of the analyzed file"`
	Content string `json:"content" jsonschema:"the analysis document, markdown"`
	Worker  string `json:"worker,omitempty" jsonschema:"optional name of the worker that produced the analysis"`
}

// SaveResultOutput defines the output schema for save_result.
type SaveResultOutput struct {
	Path      string `json:"path" jsonschema:"the path the document was stored for"`
	URI       string `json:"uri" jsonschema:"resource URI of the stored document"`
	Bytes     int    `json:"bytes" jsonschema:"size of the stored document"`
	Processed int    `json:"processed" jsonschema:"files processed so far this session"`
	Remaining int    `json:"remaining" jsonschema:"files still pending"`
}

// GetProgressInput defines the input schema for get_progress (no parameters).
type GetProgressInput struct{}

// CategoryCount is the per-category pending/processed breakdown.
type CategoryCount struct {
	Pending   int `json:"pending"`
	Processed int `json:"processed"`
}

// ProgressOutput defines the output schema for get_progress.
type ProgressOutput struct {
	SessionID         string                   `json:"session_id"`
	Total             int                      `json:"total" jsonschema:"total files in this session"`
	Processed         int                      `json:"processed"`
	Remaining         int                      `json:"remaining"`
	Percentage        float64                  `json:"percentage"`
	Current           string                   `json:"current,omitempty" jsonschema:"path currently claimed, empty when idle"`
	ByCategory        map[string]CategoryCount `json:"by_category"`
	AvgSecondsPerItem float64                  `json:"avg_seconds_per_item" jsonschema:"running average processing time, zero until the first completion"`
	ETASeconds        float64                  `json:"eta_seconds" jsonschema:"estimated seconds to drain the queue, zero until the first completion"`
	StartedAt         string                   `json:"started_at" jsonschema:"session start time, RFC 3339"`
	LastActivity      string                   `json:"last_activity" jsonschema:"last queue activity, RFC 3339"`
}

// DetectChangesInput defines the input schema for detect_changes (no parameters).
type DetectChangesInput struct{}

// ChangeInfo describes one detected difference.
type ChangeInfo struct {
	Path string `json:"path" jsonschema:"path relative to the repository root"`
	Type string `json:"type" jsonschema:"change type: added, modified, or deleted"`
	Size int64  `json:"size" jsonschema:"file size in bytes, zero for deletions"`
}

// DetectChangesOutput defines the output schema for detect_changes.
type DetectChangesOutput struct {
	Changes  []ChangeInfo `json:"changes" jsonschema:"the detected differences"`
	Added    int          `json:"added"`
	Modified int          `json:"modified"`
	Deleted  int          `json:"deleted"`
	Tracked  int          `json:"tracked" jsonschema:"files in the updated manifest"`
}

// CleanupStaleInput defines the input schema for cleanup_stale.
type CleanupStaleInput struct {
	Paths []string `json:"paths,omitempty" jsonschema:"repository-relative paths to clean; empty sweeps every result whose source is gone"`
}

// CleanupStaleOutput defines the output schema for cleanup_stale.
type CleanupStaleOutput struct {
	Removed int `json:"removed" jsonschema:"stored results deleted"`
}

// GetCoverageInput defines the input schema for get_coverage (no parameters).
type GetCoverageInput struct{}

// CoverageOutput defines the output schema for get_coverage.
type CoverageOutput struct {
	TrackedFiles    int     `json:"tracked_files" jsonschema:"files in the manifest"`
	WithResults     int     `json:"with_results" jsonschema:"tracked files with a stored analysis"`
	Percentage      float64 `json:"percentage"`
	NeedingAnalysis int     `json:"needing_analysis" jsonschema:"tracked files with no stored analysis"`
	Outdated        int     `json:"outdated" jsonschema:"stored analyses older than their source"`
}

// ClearSessionInput defines the input schema for clear_session (no parameters).
type ClearSessionInput struct{}

// ClearSessionOutput defines the output schema for clear_session.
type ClearSessionOutput struct {
	Cleared bool `json:"cleared"`
}

// doInitializeSession runs a full refresh pass: scan, diff, seed or
// recover the queue, clean up results for deleted files.
func (s *Server) doInitializeSession(ctx context.Context, input InitializeSessionInput) (*InitializeSessionOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("initialize_session started",
		slog.String("request_id", requestID),
		slog.Int("exclude_patterns", len(input.ExcludePatterns)))

	ref, err := s.refresher(input.ExcludePatterns)
	if err != nil {
		return nil, MapError(err)
	}

	summary, err := ref.Run(ctx)
	if err != nil {
		s.logger.Error("initialize_session failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("initialize_session completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("session_id", summary.SessionID),
		slog.Int("queued", summary.Queued),
		slog.Bool("recovered", summary.Recovered))

	return &InitializeSessionOutput{
		SessionID: summary.SessionID,
		Queued:    summary.Queued,
		Scanned:   summary.Scanned,
		Added:     summary.Added,
		Modified:  summary.Modified,
		Deleted:   summary.Deleted,
		Cleaned:   summary.Cleaned,
		Recovered: summary.Recovered,
	}, nil
}

// doNextFile claims one item from the queue.
func (s *Server) doNextFile(_ context.Context) (*NextFileOutput, error) {
	item, ok, err := s.queue.NextItem()
	if err != nil {
		return nil, MapError(err)
	}
	if !ok {
		return &NextFileOutput{Available: false}, nil
	}

	s.logger.Debug("next_file claimed",
		slog.String("path", item.Path),
		slog.Int("priority", item.Priority))

	return &NextFileOutput{File: toFileInfo(item), Available: true}, nil
}

// doMarkProcessed records completion of one item.
func (s *Server) doMarkProcessed(_ context.Context, input MarkProcessedInput) (*MarkProcessedOutput, error) {
	rel, mcpErr := normalizeRelPath(input.Path)
	if mcpErr != nil {
		return nil, mcpErr
	}

	if err := s.queue.MarkProcessed(rel); err != nil {
		return nil, MapError(err)
	}

	progress, err := s.queue.Progress()
	if err != nil {
		return nil, MapError(err)
	}

	return &MarkProcessedOutput{
		Path:      rel,
		Processed: progress.Processed,
		Remaining: progress.Remaining,
	}, nil
}

// doSaveResult stores the analysis document, marks the file processed,
// and announces the new resource.
func (s *Server) doSaveResult(_ context.Context, input SaveResultInput) (*SaveResultOutput, error) {
	rel, mcpErr := normalizeRelPath(input.Path)
	if mcpErr != nil {
		return nil, mcpErr
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, NewInvalidParamsError("content is required and must be non-empty")
	}
	if len(input.Content) > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeResultTooLarge,
			Message: fmt.Sprintf("document too large: %d bytes (max %d)", len(input.Content), MaxResourceSize),
		}
	}

	meta := results.Meta{
		Category:    string(scanner.Classify(rel)),
		ProcessedAt: time.Now(),
		Worker:      input.Worker,
	}
	// Best effort: record the source hash so later passes can tell what
	// the analysis was produced from.
	if hash, err := manifest.HashFile(filepath.Join(s.rootPath, filepath.FromSlash(rel))); err == nil {
		meta.SourceHash = hash
	}

	if err := s.store.Save(rel, []byte(input.Content), meta); err != nil {
		return nil, MapError(err)
	}
	s.registerResultResource(rel)

	if err := s.queue.MarkProcessed(rel); err != nil {
		return nil, MapError(err)
	}

	progress, err := s.queue.Progress()
	if err != nil {
		return nil, MapError(err)
	}

	s.logger.Info("save_result stored",
		slog.String("path", rel),
		slog.Int("bytes", len(input.Content)),
		slog.Int("remaining", progress.Remaining))

	return &SaveResultOutput{
		Path:      rel,
		URI:       resultURI(rel),
		Bytes:     len(input.Content),
		Processed: progress.Processed,
		Remaining: progress.Remaining,
	}, nil
}

// doGetProgress reports the session state.
func (s *Server) doGetProgress(_ context.Context) (*ProgressOutput, error) {
	progress, err := s.queue.Progress()
	if err != nil {
		return nil, MapError(err)
	}
	return toProgressOutput(progress), nil
}

// doDetectChanges runs a detection pass without queueing anything.
func (s *Server) doDetectChanges(ctx context.Context) (*DetectChangesOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	items, err := s.scanner.ScanSorted(ctx, s.scanOptions(nil))
	if err != nil {
		return nil, MapError(err)
	}

	det, err := s.detector.DetectChanges(ctx, items)
	if err != nil {
		return nil, MapError(err)
	}

	s.logger.Info("detect_changes completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("added", det.Added),
		slog.Int("modified", det.Modified),
		slog.Int("deleted", det.Deleted))

	out := &DetectChangesOutput{
		Changes:  make([]ChangeInfo, 0, len(det.Changes)),
		Added:    det.Added,
		Modified: det.Modified,
		Deleted:  det.Deleted,
		Tracked:  det.Tracked,
	}
	for _, c := range det.Changes {
		out.Changes = append(out.Changes, ChangeInfo{
			Path: c.RelPath,
			Type: string(c.Type),
			Size: c.Size,
		})
	}
	return out, nil
}

// doCleanupStale removes results whose sources are gone.
func (s *Server) doCleanupStale(_ context.Context, input CleanupStaleInput) (*CleanupStaleOutput, error) {
	paths := input.Paths
	if len(paths) == 0 {
		var err error
		paths, err = s.staleResults()
		if err != nil {
			return nil, MapError(err)
		}
	} else {
		for i, p := range paths {
			rel, mcpErr := normalizeRelPath(p)
			if mcpErr != nil {
				return nil, mcpErr
			}
			paths[i] = rel
		}
	}

	removed := s.detector.Cleanup(paths)
	return &CleanupStaleOutput{Removed: removed}, nil
}

// staleResults lists stored results whose source file no longer exists.
func (s *Server) staleResults() ([]string, error) {
	rels, err := s.store.List()
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, rel := range rels {
		if _, err := os.Stat(filepath.Join(s.rootPath, filepath.FromSlash(rel))); os.IsNotExist(err) {
			stale = append(stale, rel)
		}
	}
	return stale, nil
}

// doGetCoverage reports analysis coverage from the manifest.
func (s *Server) doGetCoverage(_ context.Context) (*CoverageOutput, error) {
	cov := s.detector.Coverage()
	return &CoverageOutput{
		TrackedFiles:    cov.TrackedFiles,
		WithResults:     cov.WithResults,
		Percentage:      cov.Percentage,
		NeedingAnalysis: len(s.detector.NeedingAnalysis()),
		Outdated:        len(s.detector.Outdated()),
	}, nil
}

// doClearSession drops the session snapshot.
func (s *Server) doClearSession(_ context.Context) (*ClearSessionOutput, error) {
	if err := s.queue.ClearSession(); err != nil {
		return nil, MapError(err)
	}
	s.logger.Info("clear_session completed")
	return &ClearSessionOutput{Cleared: true}, nil
}

// normalizeRelPath validates and normalizes a caller-supplied path to a
// clean repository-relative slash path.
func normalizeRelPath(p string) (string, *MCPError) {
	rel, err := validation.CleanRelPath(p)
	if err != nil {
		return "", MapError(err)
	}
	return rel, nil
}

func toFileInfo(item *scanner.QueueItem) *FileInfo {
	return &FileInfo{
		Path:            item.Path,
		AbsPath:         item.AbsPath,
		Size:            item.Size,
		Category:        string(item.Category),
		Language:        item.Language,
		Priority:        item.Priority,
		EstimatedTokens: item.EstimatedTokens,
	}
}

func toProgressOutput(p *queue.Progress) *ProgressOutput {
	out := &ProgressOutput{
		SessionID:         p.SessionID,
		Total:             p.Total,
		Processed:         p.Processed,
		Remaining:         p.Remaining,
		Percentage:        p.Percentage,
		Current:           p.Current,
		ByCategory:        make(map[string]CategoryCount, len(p.ByCategory)),
		AvgSecondsPerItem: p.AvgSecondsPerItem,
		ETASeconds:        p.ETASeconds,
		StartedAt:         p.StartedAt.Format(time.RFC3339),
		LastActivity:      p.LastActivity.Format(time.RFC3339),
	}
	for cat, counts := range p.ByCategory {
		out.ByCategory[cat] = CategoryCount{
			Pending:   counts.Pending,
			Processed: counts.Processed,
		}
	}
	return out
}
