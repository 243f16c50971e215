package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("🔍", "Scanning repository...")

	// Then: output contains icon and message
	output := buf.String()
	assert.Contains(t, output, "🔍")
	assert.Contains(t, output, "Scanning repository...")
}

func TestWriter_Status_NoIcon_Indents(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing without an icon
	w.Status("", "Daemon is not running")

	// Then: the line is indented in place of the icon
	assert.Equal(t, "   Daemon is not running\n", buf.String())
}

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a success message
	w.Success("Session initialized!")

	// Then: output contains checkmark and message
	output := buf.String()
	assert.Contains(t, output, "✅")
	assert.Contains(t, output, "Session initialized!")
}

func TestWriter_Warning_PrintsWarningIcon(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a warning message
	w.Warning("Queue state was corrupt, starting fresh")

	// Then: output contains warning icon and message
	output := buf.String()
	assert.Contains(t, output, "⚠️")
	assert.Contains(t, output, "Queue state was corrupt, starting fresh")
}

func TestWriter_Error_PrintsErrorIcon(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing an error message
	w.Error("Failed to acquire claim lock")

	// Then: output contains error icon and message
	output := buf.String()
	assert.Contains(t, output, "❌")
	assert.Contains(t, output, "Failed to acquire claim lock")
}

func TestWriter_Field_AlignsValues(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing two fields with labels of different length
	w.Field("PID", 4242)
	w.Field("Session", "sess-20260825")

	// Then: values start at the same column
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Index(lines[0], "4242"), strings.Index(lines[1], "sess-20260825"))
	assert.Contains(t, lines[0], "PID:")
	assert.Contains(t, lines[1], "Session:")
}

func TestWriter_Code_PrintsCodeBlock(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a code block
	w.Code(`{"queued": 12}`)

	// Then: output contains the indented code
	assert.Contains(t, buf.String(), `  {"queued": 12}`)
}

func TestWriter_JSON_EncodesIndented(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: encoding a value
	err := w.JSON(map[string]any{"queued": 12, "session_id": "sess-1"})
	require.NoError(t, err)

	// Then: output is indented JSON that round-trips
	assert.Contains(t, buf.String(), "  \"queued\": 12")
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "sess-1", decoded["session_id"])
}

func TestWriter_Progress_PrintsProgressBar(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing progress at 50%
	w.Progress(50, 100, "Hashing files")

	// Then: output contains percentage and message
	output := buf.String()
	assert.Contains(t, output, "50%")
	assert.Contains(t, output, "Hashing files")
}

func TestWriter_Progress_ZeroTotal_NoOutput(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing progress with zero total
	w.Progress(0, 0, "Processing")

	// Then: nothing is written
	assert.Empty(t, buf.String())
}

func TestWriter_Progress_CompletionAddsNewline(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: progress reaches the total
	w.Progress(10, 10, "done")

	// Then: the line is terminated
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestWriter_Statusf_FormatsMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a formatted status message
	w.Statusf("📂", "Found %d files in %s", 42, "/repo")

	// Then: output contains formatted message
	output := buf.String()
	assert.Contains(t, output, "📂")
	assert.Contains(t, output, "Found 42 files in /repo")
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
		{"overshoot clamps", 150, 100, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a newline
	w.Newline()

	// Then: output is just a newline
	assert.Equal(t, "\n", buf.String())
}
