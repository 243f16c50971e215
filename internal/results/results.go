// Package results stores one analysis document per source file under the
// repository state directory, mirroring the source tree. Each document is
// a markdown file with a JSON metadata sidecar; both are written
// atomically so readers never observe partial results.
package results

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

const (
	// DocSuffix is appended to the source-relative path for the analysis
	// document.
	DocSuffix = ".crystal.md"
	// MetaSuffix is appended for the metadata sidecar.
	MetaSuffix = ".crystal.json"

	resultsDirName = "results"
)

// Meta is the metadata sidecar stored next to each analysis document.
type Meta struct {
	// SourcePath is the repo-relative path of the analyzed file.
	SourcePath string `json:"source_path"`
	// SourceHash is the content hash of the source at analysis time.
	SourceHash string `json:"source_hash,omitempty"`
	// Category is the source file's category at analysis time.
	Category string `json:"category,omitempty"`
	// EstimatedTokens is the token estimate the queue carried for the file.
	EstimatedTokens int `json:"estimated_tokens,omitempty"`
	// ProcessedAt records when the analysis completed.
	ProcessedAt time.Time `json:"processed_at"`
	// Worker optionally identifies who produced the analysis.
	Worker string `json:"worker,omitempty"`
}

// Store persists analysis documents for one repository.
type Store struct {
	dir string
}

// NewStore creates a result store rooted at the repository's state
// directory.
func NewStore(root string) *Store {
	return &Store{dir: filepath.Join(state.Dir(root), resultsDirName)}
}

// Dir returns the directory documents are stored under.
func (s *Store) Dir() string {
	return s.dir
}

// DocPath returns the on-disk path of the analysis document for a
// source-relative path.
func (s *Store) DocPath(relPath string) string {
	return filepath.Join(s.dir, filepath.FromSlash(relPath)+DocSuffix)
}

func (s *Store) metaPath(relPath string) string {
	return filepath.Join(s.dir, filepath.FromSlash(relPath)+MetaSuffix)
}

// validRel rejects paths that would escape the results directory.
func validRel(relPath string) error {
	if relPath == "" {
		return crystalerrors.New(crystalerrors.ErrCodeInvalidPath,
			"result path is empty", nil)
	}
	clean := path.Clean(filepath.ToSlash(relPath))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return crystalerrors.New(crystalerrors.ErrCodeInvalidPath,
			"result path escapes the repository", nil).
			WithDetail("path", relPath)
	}
	return nil
}

// Save atomically writes the analysis document and its metadata sidecar
// for relPath, creating intermediate directories as needed.
func (s *Store) Save(relPath string, doc []byte, meta Meta) error {
	if err := validRel(relPath); err != nil {
		return err
	}

	meta.SourcePath = filepath.ToSlash(relPath)
	if err := state.SaveBytes(s.DocPath(relPath), doc); err != nil {
		return err
	}
	return state.SaveJSON(s.metaPath(relPath), &meta)
}

// Load returns the stored analysis document for relPath.
func (s *Store) Load(relPath string) ([]byte, error) {
	if err := validRel(relPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.DocPath(relPath))
	if os.IsNotExist(err) {
		return nil, crystalerrors.New(crystalerrors.ErrCodeFileNotFound,
			"no stored result", err).WithDetail("path", relPath)
	}
	if err != nil {
		return nil, crystalerrors.Wrap(crystalerrors.ErrCodeFilePerm, err)
	}
	return data, nil
}

// Meta returns the metadata sidecar for relPath. A document saved
// without a readable sidecar reports corrupt state.
func (s *Store) Meta(relPath string) (Meta, error) {
	var meta Meta
	if err := validRel(relPath); err != nil {
		return meta, err
	}
	if err := state.LoadJSON(s.metaPath(relPath), &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Has reports whether an analysis document exists for relPath.
func (s *Store) Has(relPath string) bool {
	if validRel(relPath) != nil {
		return false
	}
	return state.Exists(s.DocPath(relPath))
}

// ModTime returns the document's modification time. ok is false when no
// result is stored, which callers treat as "never analyzed".
func (s *Store) ModTime(relPath string) (time.Time, bool) {
	if validRel(relPath) != nil {
		return time.Time{}, false
	}
	info, err := os.Stat(s.DocPath(relPath))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Delete removes the document and sidecar for relPath, then prunes any
// directories the removal emptied. Deleting a path with no stored result
// is a no-op.
func (s *Store) Delete(relPath string) error {
	if err := validRel(relPath); err != nil {
		return err
	}

	if err := state.Remove(s.DocPath(relPath)); err != nil {
		return err
	}
	if err := state.Remove(s.metaPath(relPath)); err != nil {
		return err
	}

	s.pruneEmptyDirs(filepath.Dir(s.DocPath(relPath)))
	return nil
}

// pruneEmptyDirs removes empty directories from dir upward, stopping at
// the results root or the first non-empty directory.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.dir && strings.HasPrefix(dir, s.dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// List returns the source-relative paths that have stored results,
// sorted. A store that was never written to lists as empty.
func (s *Store) List() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, DocSuffix) {
			return nil
		}
		rel, rerr := filepath.Rel(s.dir, strings.TrimSuffix(p, DocSuffix))
		if rerr != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, crystalerrors.Wrap(crystalerrors.ErrCodeFilePerm, err)
	}

	sort.Strings(paths)
	return paths, nil
}
