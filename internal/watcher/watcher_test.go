package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{OpIgnoreChange, "IGNORE_CHANGE"},
		{OpConfigChange, "CONFIG_CHANGE"},
		{Operation(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, 200*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 1000, opts.EventBufferSize)
	assert.Empty(t, opts.IgnorePatterns)
}

func TestOptions_WithDefaults(t *testing.T) {
	t.Run("zero values are filled in", func(t *testing.T) {
		opts := Options{}.WithDefaults()

		assert.Equal(t, 200*time.Millisecond, opts.DebounceWindow)
		assert.Equal(t, 1000, opts.EventBufferSize)
	})

	t.Run("explicit values are kept", func(t *testing.T) {
		opts := Options{
			DebounceWindow:  50 * time.Millisecond,
			EventBufferSize: 10,
			IgnorePatterns:  []string{"*.tmp"},
		}.WithDefaults()

		assert.Equal(t, 50*time.Millisecond, opts.DebounceWindow)
		assert.Equal(t, 10, opts.EventBufferSize)
		assert.Equal(t, []string{"*.tmp"}, opts.IgnorePatterns)
	})
}
