// Package telemetry records per-item processing measurements for one
// repository: every completed queue item appends one JSONL record under
// the state directory. Aggregates feed the stats command and seed the
// session ETA. All data stays local, nothing is reported anywhere.
package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

const (
	// DirName is the telemetry directory under the state dir.
	DirName = "telemetry"

	// FileName is the active JSONL file of completion records.
	FileName = "processing.jsonl"

	// RotatedFileName holds the previous generation after rotation.
	RotatedFileName = "processing.1.jsonl"

	// DefaultMaxEntries caps records per file before rotation.
	DefaultMaxEntries = 5000

	// maxLineBytes bounds a single JSONL line when reading.
	maxLineBytes = 1 << 20
)

// Record is one completed item: what was processed and what it cost.
type Record struct {
	// Path is relative to the repository root, slash-separated.
	Path string `json:"path"`

	// Category is the file category at completion time.
	Category string `json:"category"`

	// Seconds is the claim-to-completion duration.
	Seconds float64 `json:"seconds"`

	// Tokens is the estimated token cost of the item, zero when unknown.
	Tokens int `json:"tokens,omitempty"`

	// SessionID identifies the session the completion belongs to.
	SessionID string `json:"session_id,omitempty"`

	// CompletedAt is when the item was marked processed.
	CompletedAt time.Time `json:"completed_at"`
}

// Options configures a Recorder.
type Options struct {
	// Root is the repository the recorder serves.
	Root string

	// Enabled turns recording on. A disabled recorder accepts Record
	// calls as no-ops and creates nothing on disk.
	Enabled bool

	// MaxEntries caps records per file before rotation. Zero or
	// negative selects DefaultMaxEntries.
	MaxEntries int
}

// Recorder appends completion records to a JSONL file with single-step
// rotation: when the active file reaches the entry cap it becomes the
// rotated generation and a fresh file starts, so at most two
// generations exist at once. Safe for concurrent use within the
// process; concurrent writers in other processes interleave whole lines
// through O_APPEND.
type Recorder struct {
	mu          sync.Mutex
	path        string
	rotatedPath string
	enabled     bool
	maxEntries  int
	entries     int
}

// NewRecorder creates a recorder for one repository. An enabled
// recorder creates the telemetry directory and resumes the entry count
// from the active file; a disabled one touches nothing.
func NewRecorder(opts Options) (*Recorder, error) {
	if opts.Root == "" {
		return nil, crystalerrors.New(crystalerrors.ErrCodeInvalidInput,
			"repository root is required", nil)
	}

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	dir := filepath.Join(state.Dir(opts.Root), DirName)
	r := &Recorder{
		path:        filepath.Join(dir, FileName),
		rotatedPath: filepath.Join(dir, RotatedFileName),
		enabled:     opts.Enabled,
		maxEntries:  maxEntries,
	}
	if !opts.Enabled {
		return r, nil
	}

	if err := state.EnsureDir(dir); err != nil {
		return nil, err
	}
	r.entries = countLines(r.path)
	return r, nil
}

// Enabled reports whether records are being written.
func (r *Recorder) Enabled() bool {
	return r != nil && r.enabled
}

// Record appends one completion record. Disabled and nil recorders
// accept the call as a no-op.
func (r *Recorder) Record(rec Record) error {
	if !r.Enabled() {
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return crystalerrors.PersistError("failed to encode telemetry record", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries >= r.maxEntries {
		r.rotateLocked()
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return crystalerrors.PersistError("failed to open telemetry file", err).
			WithDetail("path", r.path)
	}
	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	if werr != nil {
		return crystalerrors.PersistError("failed to append telemetry record", werr).
			WithDetail("path", r.path)
	}
	if cerr != nil {
		return crystalerrors.PersistError("failed to close telemetry file", cerr).
			WithDetail("path", r.path)
	}

	r.entries++
	return nil
}

// rotateLocked shifts the active file into the rotated slot, dropping
// the generation before it. The entry count restarts either way: a
// failed rename retries at the next threshold instead of on every
// append.
func (r *Recorder) rotateLocked() {
	if err := os.Rename(r.path, r.rotatedPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("telemetry_rotate_failed",
			slog.String("path", r.path),
			slog.String("error", err.Error()))
	}
	r.entries = 0
}

// Load returns records from the rotated and active files, oldest file
// first, filtered to completions at or after since. A zero since
// returns everything. Lines that fail to decode are skipped and
// counted; a missing file reads as empty. Load works on disabled
// recorders so history written while recording was on stays readable.
func (r *Recorder) Load(since time.Time) ([]Record, error) {
	if r == nil {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var records []Record
	skipped := 0
	for _, p := range []string{r.rotatedPath, r.path} {
		recs, bad, err := readRecords(p, since)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
		skipped += bad
	}
	if skipped > 0 {
		slog.Warn("telemetry_records_skipped",
			slog.Int("count", skipped))
	}
	return records, nil
}

// readRecords decodes one JSONL file, returning the records that parse
// and the count of lines that did not.
func readRecords(path string, since time.Time) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, crystalerrors.StateError("failed to read telemetry file", err).
			WithDetail("path", path)
	}
	defer f.Close()

	var records []Record
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		if !since.IsZero() && rec.CompletedAt.Before(since) {
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, crystalerrors.StateError("failed to scan telemetry file", err).
			WithDetail("path", path)
	}
	return records, skipped, nil
}

// countLines sizes the entry counter when a recorder reopens an
// existing file. Best effort: an unreadable file counts as empty.
func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	return n
}
