package agentloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/codeloop/unifiedllm"
)

// scriptedGenerator replays canned replies and records every request.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests [][]unifiedllm.Message
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, messages []unifiedllm.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, messages)
	if g.err != nil {
		return "", g.err
	}
	if len(g.requests) > len(g.replies) {
		return g.replies[len(g.replies)-1], nil
	}
	return g.replies[len(g.requests)-1], nil
}

func (g *scriptedGenerator) lastRequest() []unifiedllm.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func fenced(tool, args string) string {
	return "```json\n{\"tool\": \"" + tool + "\", \"args\": " + args + "}\n```"
}

func newTestSession(t *testing.T, gen Generator, cfg *SessionConfig) (*Session, string) {
	t.Helper()
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)
	profile := NewProfile("test-model", env, DefaultToolOptions())
	s := NewSession(gen, profile, env, cfg)
	t.Cleanup(s.Close)
	return s, dir
}

func drain(s *Session) []SessionEvent {
	s.Close()
	var events []SessionEvent
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func kinds(events []SessionEvent) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestSessionRunWithoutTools(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Just text."}}
	s, _ := newTestSession(t, gen, nil)

	reply, err := s.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Just text.", reply)
	assert.Equal(t, StateIdle, s.State())

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, unifiedllm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You have access to the following tools:")
	assert.Equal(t, unifiedllm.UserMessage("hi"), msgs[1])
	assert.Equal(t, unifiedllm.AssistantMessage("Just text."), msgs[2])
}

func TestSessionToolRoundTrip(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"Let me write it.\n" + fenced("modify_file", `{"path": "hello.txt", "content": "hi"}`),
		"Created hello.txt.",
	}}
	s, dir := newTestSession(t, gen, nil)

	reply, err := s.Run(context.Background(), "create hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "Created hello.txt.", reply)

	req := gen.lastRequest()
	last := req[len(req)-1]
	assert.Equal(t, unifiedllm.RoleUser, last.Role)
	assert.Equal(t, "Tool Output: Successfully wrote to hello.txt\n\n"+
		"(Remember to use this information to answer the user's original request: 'create hello.txt')", last.Content)

	data, err := readFile(dir, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", data)

	assert.Equal(t, []EventKind{
		EventUserInput,
		EventAssistantText,
		EventToolCallStart,
		EventToolCallEnd,
		EventAssistantText,
		EventSessionEnd,
	}, kinds(drain(s)))
}

func TestSessionToolFailuresBecomeOutput(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "unknown tool",
			reply: fenced("teleport", `{}`),
			want:  "Tool Output: Error: Tool 'teleport' not found.",
		},
		{
			name:  "invalid arguments",
			reply: fenced("read_file", `{}`),
			want:  "Tool Output: Error executing tool: invalid arguments: 'path' is required",
		},
		{
			name:  "non-object arguments",
			reply: fenced("read_file", `[1, 2]`),
			want:  "Tool Output: Error executing tool: arguments must be a JSON object",
		},
		{
			name:  "executor error",
			reply: fenced("edit_file", `{"path": "nope.txt", "target_text": "a", "replacement_text": "b"}`),
			want:  "Tool Output: Error executing tool: file 'nope.txt' does not exist",
		},
		{
			name:  "panic",
			reply: fenced("explode", `{}`),
			want:  "Tool Output: Error executing tool: panic in explode: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{replies: []string{tt.reply, "ok"}}
			s, _ := newTestSession(t, gen, nil)
			s.profile.Registry.Register(&RegisteredTool{
				Definition: ToolDefinition{Name: "explode"},
				Executor: func(context.Context, map[string]any) (string, error) {
					panic("boom")
				},
			})

			reply, err := s.Run(context.Background(), "do it")
			require.NoError(t, err)
			assert.Equal(t, "ok", reply)

			req := gen.lastRequest()
			got := req[len(req)-1].Content
			assert.True(t, strings.HasPrefix(got, tt.want+"\n\n(Remember"), got)
		})
	}
}

func TestSessionMultipleCallsInOneReply(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		fenced("modify_file", `{"path": "a.txt", "content": "A"}`) + "\n" +
			fenced("read_file", `{"path": "a.txt"}`),
		"done",
	}}
	s, _ := newTestSession(t, gen, nil)

	_, err := s.Run(context.Background(), "go")
	require.NoError(t, err)

	req := gen.lastRequest()
	require.GreaterOrEqual(t, len(req), 2)
	assert.True(t, strings.HasPrefix(req[len(req)-2].Content, "Tool Output: Successfully wrote to a.txt"))
	assert.True(t, strings.HasPrefix(req[len(req)-1].Content, "Tool Output: A\n\n"))
}

func TestSessionToolRoundLimit(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{fenced("list_directory", `{}`)}}
	cfg := DefaultSessionConfig()
	cfg.MaxToolRounds = 2
	cfg.EnableLoopDetection = false
	s, _ := newTestSession(t, gen, &cfg)

	reply, err := s.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, gen.replies[0], reply)
	assert.Len(t, gen.requests, 3)
	assert.Contains(t, kinds(drain(s)), EventTurnLimit)
}

func TestSessionLoopDetection(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		fenced("list_directory", `{}`),
		fenced("list_directory", `{}`),
		fenced("list_directory", `{}`),
		"giving up",
	}}
	cfg := DefaultSessionConfig()
	cfg.LoopDetectionWindow = 3
	s, _ := newTestSession(t, gen, &cfg)

	reply, err := s.Run(context.Background(), "look around")
	require.NoError(t, err)
	assert.Equal(t, "giving up", reply)

	req := gen.lastRequest()
	assert.Equal(t, unifiedllm.RoleUser, req[len(req)-1].Role)
	assert.True(t, strings.HasPrefix(req[len(req)-1].Content, "Loop detected: the last 3 tool calls"))
	assert.Contains(t, kinds(drain(s)), EventLoopDetection)
}

func TestSessionGenerateError(t *testing.T) {
	apiErr := errors.New("upstream down")
	gen := &scriptedGenerator{err: apiErr}
	s, _ := newTestSession(t, gen, nil)

	_, err := s.Run(context.Background(), "hi")
	require.ErrorIs(t, err, apiErr)
	assert.Equal(t, StateIdle, s.State())
	assert.Contains(t, kinds(drain(s)), EventError)
}

func TestSessionCanceledContext(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"never"}}
	s, _ := newTestSession(t, gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, "hi")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, gen.requests)
}

func TestSessionClosed(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"x"}}
	s, _ := newTestSession(t, gen, nil)
	s.Close()
	s.Close()

	_, err := s.Run(context.Background(), "hi")
	require.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, StateClosed, s.State())
}

// blockingGenerator holds Generate until released.
type blockingGenerator struct {
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGenerator) Generate(_ context.Context, _ string, _ []unifiedllm.Message) (string, error) {
	close(g.entered)
	<-g.release
	return "done", nil
}

func TestSessionBusy(t *testing.T) {
	gen := &blockingGenerator{entered: make(chan struct{}), release: make(chan struct{})}
	s, _ := newTestSession(t, gen, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "first")
		done <- err
	}()

	<-gen.entered
	assert.Equal(t, StateProcessing, s.State())
	_, err := s.Run(context.Background(), "second")
	require.ErrorIs(t, err, ErrSessionBusy)

	close(gen.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionEnforcesBudget(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		fenced("read_file", `{"path": "big.txt"}`),
		"read it",
	}}
	cfg := DefaultSessionConfig()
	cfg.Budget.MaxToolOutputChars = 200
	s, dir := newTestSession(t, gen, &cfg)
	require.NoError(t, writeFile(dir, "big.txt", strings.Repeat("z", 5000)))

	_, err := s.Run(context.Background(), "read big.txt")
	require.NoError(t, err)

	req := gen.lastRequest()
	out := req[len(req)-1].Content
	assert.True(t, strings.HasPrefix(out, "Tool Output: [truncated: original length"), out)
	assert.Less(t, len(out), 400)
	assert.Contains(t, kinds(drain(s)), EventContextEnforced)
}

func TestSessionResetAndStats(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"hello"}}
	s, _ := newTestSession(t, gen, nil)

	_, err := s.Run(context.Background(), "hi")
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 3, stats.Messages)
	assert.Equal(t, 0, stats.ToolOutputs)
	assert.Positive(t, stats.Chars)
	assert.Positive(t, stats.EstimatedTokens)
	assert.Equal(t, DefaultBudget(), stats.Budget)

	s.Reset()
	assert.Len(t, s.Messages(), 1)
}

func TestFormatToolOutput(t *testing.T) {
	assert.Equal(t,
		"Tool Output: 42\n\n(Remember to use this information to answer the user's original request: 'what is it')",
		FormatToolOutput("42", "what is it"))
}
