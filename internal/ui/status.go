package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// CategoryCount holds per-category pending/processed counts for display.
type CategoryCount struct {
	Pending   int `json:"pending"`
	Processed int `json:"processed"`
}

// StatusInfo contains session and coverage information for display.
type StatusInfo struct {
	Root      string `json:"root"`
	SessionID string `json:"session_id,omitempty"`

	// Session progress
	TotalFiles int     `json:"total_files"`
	Processed  int     `json:"processed"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
	Current    string  `json:"current,omitempty"`
	ETASeconds float64 `json:"eta_seconds,omitempty"`

	ByCategory map[string]CategoryCount `json:"by_category,omitempty"`

	// Coverage
	TrackedFiles    int     `json:"tracked_files"`
	WithResults     int     `json:"with_results"`
	CoveragePercent float64 `json:"coverage_percent"`

	// Storage
	ResultsSize  int64     `json:"results_size"`
	LastActivity time.Time `json:"last_activity"`

	// Daemon
	DaemonStatus string `json:"daemon_status"` // "running", "stopped", "n/a"
}

// StatusRenderer displays session status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Session Status: "+info.Root))

	if info.SessionID != "" {
		_, _ = fmt.Fprintf(r.out, "  Session:    %s\n", info.SessionID)
	}
	_, _ = fmt.Fprintf(r.out, "  Files:      %d\n", info.TotalFiles)
	_, _ = fmt.Fprintf(r.out, "  Processed:  %d (%.1f%%)\n", info.Processed, info.Percentage)
	_, _ = fmt.Fprintf(r.out, "  Remaining:  %d\n", info.Remaining)
	if info.Current != "" {
		_, _ = fmt.Fprintf(r.out, "  Current:    %s\n", info.Current)
	}
	if info.ETASeconds > 0 {
		eta := time.Duration(info.ETASeconds * float64(time.Second))
		_, _ = fmt.Fprintf(r.out, "  ETA:        %s\n", formatDuration(eta))
	}
	if !info.LastActivity.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Activity:   %s\n", humanize.Time(info.LastActivity))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(info.ByCategory) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Categories:")
		names := make([]string, 0, len(info.ByCategory))
		for name := range info.ByCategory {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := info.ByCategory[name]
			_, _ = fmt.Fprintf(r.out, "    %-8s %d pending, %d processed\n", name, c.Pending, c.Processed)
		}
		_, _ = fmt.Fprintln(r.out)
	}

	_, _ = fmt.Fprintln(r.out, "  Coverage:")
	_, _ = fmt.Fprintf(r.out, "    Tracked:  %d\n", info.TrackedFiles)
	_, _ = fmt.Fprintf(r.out, "    Analyzed: %d (%.1f%%)\n", info.WithResults, info.CoveragePercent)
	_, _ = fmt.Fprintf(r.out, "    Storage:  %s\n", humanize.IBytes(uint64(info.ResultsSize)))
	_, _ = fmt.Fprintln(r.out)

	if info.DaemonStatus != "" && info.DaemonStatus != "n/a" {
		_, _ = fmt.Fprintf(r.out, "  Daemon: %s\n", r.renderStatus(info.DaemonStatus))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}
