package agentloop

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/martinemde/codeloop/toolcall"
)

func newCall(name string, args map[string]any) toolcall.Call {
	return toolcall.Call{Name: name, Args: args}
}

func TestCallSignature(t *testing.T) {
	a := newCall("read_file", map[string]any{"path": "a", "max_lines": 5.0})
	b := newCall("read_file", map[string]any{"max_lines": 5.0, "path": "a"})
	c := newCall("read_file", map[string]any{"path": "b"})
	d := newCall("list_directory", map[string]any{"path": "a", "max_lines": 5.0})

	assert.Equal(t, CallSignature(a), CallSignature(b))
	assert.NotEqual(t, CallSignature(a), CallSignature(c))
	assert.NotEqual(t, CallSignature(a), CallSignature(d))

	raw := toolcall.Call{Name: "x", RawArgs: json.RawMessage(`[1,2]`)}
	assert.Equal(t, CallSignature(raw), CallSignature(raw))
}

func TestDetectLoop(t *testing.T) {
	tests := []struct {
		name string
		sigs []string
		win  int
		want bool
	}{
		{"too few", []string{"a", "a"}, 4, false},
		{"same call", []string{"a", "a", "a", "a"}, 4, true},
		{"alternating", []string{"a", "b", "a", "b"}, 4, true},
		{"triple", []string{"a", "b", "c", "a", "b", "c"}, 6, true},
		{"window not divisible by three", []string{"a", "b", "c", "a", "b"}, 5, false},
		{"varied", []string{"a", "b", "c", "d"}, 4, false},
		{"only last window counts", []string{"x", "y", "a", "a", "a"}, 3, true},
		{"zero window", []string{"a"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLoop(tt.sigs, tt.win))
		})
	}
}

func TestLoopDetector(t *testing.T) {
	d := NewLoopDetector(3)
	same := newCall("list_directory", map[string]any{"path": "."})

	assert.False(t, d.Observe(same))
	assert.False(t, d.Observe(same))
	assert.True(t, d.Observe(same))

	d.Reset()
	assert.False(t, d.Observe(same))
	assert.False(t, d.Observe(newCall("read_file", map[string]any{"path": "x"})))
	assert.False(t, d.Observe(same))
}

func TestNewLoopDetectorDefaultWindow(t *testing.T) {
	assert.Equal(t, 10, NewLoopDetector(0).window)
}
