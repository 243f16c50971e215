package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	if dir == "" {
		t.Error("DefaultLogDir returned empty string")
	}

	if !strings.Contains(dir, ".crystalmcp") || !strings.Contains(dir, "logs") {
		t.Errorf("DefaultLogDir should contain .crystalmcp/logs, got: %s", dir)
	}
}

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != LogFileName {
		t.Errorf("DefaultLogPath should end with %s, got: %s", LogFileName, path)
	}
}

func TestRepoLogPath(t *testing.T) {
	path := RepoLogPath("/repo/.crystalmcp")
	want := filepath.Join("/repo/.crystalmcp", "logs", LogFileName)
	if path != want {
		t.Errorf("RepoLogPath = %s, want %s", path, want)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 {
		t.Errorf("expected MaxSizeMB 10, got: %d", cfg.MaxSizeMB)
	}
	if cfg.MaxFiles != 5 {
		t.Errorf("expected MaxFiles 5, got: %d", cfg.MaxFiles)
	}
	if !cfg.WriteToStderr {
		t.Error("expected WriteToStderr to be true")
	}
}

func TestDebugConfig(t *testing.T) {
	cfg := DebugConfig()
	if cfg.Level != "debug" {
		t.Errorf("expected level 'debug', got: %s", cfg.Level)
	}
}

func TestRepoConfig(t *testing.T) {
	cfg := RepoConfig("/repo/.crystalmcp", "warn")

	if cfg.FilePath != RepoLogPath("/repo/.crystalmcp") {
		t.Errorf("RepoConfig should log under the state dir, got: %s", cfg.FilePath)
	}
	if cfg.Level != "warn" {
		t.Errorf("expected level 'warn', got: %s", cfg.Level)
	}
}

func TestSetup(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := Config{
		Level:         "debug",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	if logger == nil {
		t.Fatal("Setup returned nil logger")
	}

	logger.Info("test message")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("log file was not created")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"DEBUG", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"}, // defaults to info
	}

	for _, tc := range tests {
		level := LevelFromString(tc.input)
		if level.String() != tc.expected {
			t.Errorf("LevelFromString(%q) = %s, want %s", tc.input, level.String(), tc.expected)
		}
	}
}

func TestFindLogFile_NotFound(t *testing.T) {
	_, err := FindLogFile("/nonexistent/path/to/log.log", "")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")
	if err := os.WriteFile(logPath, []byte("test"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	found, err := FindLogFile(logPath, "")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if found != logPath {
		t.Errorf("expected %s, got %s", logPath, found)
	}
}

func TestFindLogFile_PrefersRepoLocal(t *testing.T) {
	stateDir := t.TempDir()
	repoLog := RepoLogPath(stateDir)
	if err := os.MkdirAll(filepath.Dir(repoLog), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(repoLog, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	found, err := FindLogFile("", stateDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != repoLog {
		t.Errorf("expected repo-local log %s, got %s", repoLog, found)
	}
}

func TestRotatingWriter_ImmediateSync(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer func() { _ = w.Close() }()

	testData := []byte(`{"time":"2026-01-01T00:00:00Z","level":"INFO","msg":"test"}` + "\n")
	n, err := w.Write(testData)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected %d bytes written, got %d", len(testData), n)
	}

	// Immediate sync means the line is readable without closing the writer.
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if string(content) != string(testData) {
		t.Errorf("expected %q, got %q", string(testData), string(content))
	}
}

func TestRotatingWriter_RotatesAtSizeCeiling(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	// 1 MB ceiling; two ~600 KB writes force one rotation.
	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer func() { _ = w.Close() }()

	big := []byte(strings.Repeat("x", 600*1024) + "\n")
	if _, err := w.Write(big); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := w.Write(big); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("expected rotated file %s.1 to exist: %v", logPath, err)
	}
}

func TestPruneRotated_RemovesBeyondRetention(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	for _, name := range []string{"test.log", "test.log.1", "test.log.2", "test.log.3", "test.log.4", "test.log.bak"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	removed, err := PruneRotated(logPath, 2)
	if err != nil {
		t.Fatalf("PruneRotated failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	// Active file, generations within retention, and non-numeric
	// suffixes survive.
	for _, name := range []string{"test.log", "test.log.1", "test.log.2", "test.log.bak"} {
		if _, err := os.Stat(filepath.Join(tmpDir, name)); err != nil {
			t.Errorf("expected %s to survive: %v", name, err)
		}
	}
	for _, name := range []string{"test.log.3", "test.log.4"} {
		if _, err := os.Stat(filepath.Join(tmpDir, name)); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed", name)
		}
	}
}

func TestViewer_TailFiltersByLevel(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	lines := []string{
		`{"time":"2026-01-01T00:00:01Z","level":"DEBUG","msg":"noise"}`,
		`{"time":"2026-01-01T00:00:02Z","level":"INFO","msg":"scan started"}`,
		`{"time":"2026-01-01T00:00:03Z","level":"ERROR","msg":"persist failed"}`,
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	v := NewViewer(ViewerConfig{Level: "info", NoColor: true}, os.Stdout)
	entries, err := v.Tail(logPath, 100)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at info level, got %d", len(entries))
	}
	if entries[0].Msg != "scan started" || entries[1].Msg != "persist failed" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestViewer_TailKeepsLastN(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(fmt.Sprintf(`{"time":"2026-01-01T00:00:00Z","level":"INFO","msg":"entry %d"}`, i))
		sb.WriteString("\n")
	}
	if err := os.WriteFile(logPath, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	v := NewViewer(ViewerConfig{NoColor: true}, os.Stdout)
	entries, err := v.Tail(logPath, 5)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	if entries[0].Msg != "entry 15" {
		t.Errorf("expected tail to start at entry 15, got %q", entries[0].Msg)
	}
}

func TestViewer_FormatEntry_InvalidLinePassesThrough(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, os.Stdout)
	entry := v.parseLine("not json at all")

	if entry.IsValid {
		t.Error("expected invalid entry")
	}
	if got := v.FormatEntry(entry); got != "not json at all" {
		t.Errorf("invalid lines should pass through raw, got %q", got)
	}
}

func TestViewer_FormatEntry_IncludesAttrs(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, os.Stdout)
	entry := v.parseLine(`{"time":"2026-01-01T12:30:45Z","level":"INFO","msg":"claimed","path":"src/main.go"}`)

	formatted := v.FormatEntry(entry)
	if !strings.Contains(formatted, "claimed") {
		t.Errorf("formatted entry should contain message, got %q", formatted)
	}
	if !strings.Contains(formatted, "path=src/main.go") {
		t.Errorf("formatted entry should contain attrs, got %q", formatted)
	}
}
