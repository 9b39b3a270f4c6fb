package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitter(t *testing.T) {
	e := NewEventEmitter("sess-1", 2)
	e.Emit(EventUserInput, map[string]any{"content": "hi"})
	e.Emit(EventAssistantText, nil)
	e.Emit(EventWarning, nil)
	assert.Equal(t, 1, e.Dropped())

	first := <-e.Events()
	assert.Equal(t, EventUserInput, first.Kind)
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "hi", first.Data["content"])
	assert.False(t, first.Timestamp.IsZero())

	e.Close()
	e.Close()
	e.Emit(EventError, nil)

	var rest []EventKind
	for ev := range e.Events() {
		rest = append(rest, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventAssistantText}, rest)
}

func TestNewEventEmitterDefaultBuffer(t *testing.T) {
	e := NewEventEmitter("s", 0)
	defer e.Close()
	require.Equal(t, 256, cap(e.ch))
}
