package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/codeloop/toolcall"
	"github.com/martinemde/codeloop/unifiedllm"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateClosed     SessionState = "closed"
)

// ErrSessionClosed is returned by Run after Close.
var ErrSessionClosed = errors.New("session is closed")

// ErrSessionBusy is returned when Run is called while another Run is in
// progress.
var ErrSessionBusy = errors.New("session is already processing input")

// Generator produces the next assistant reply for a conversation.
// *unifiedllm.Client implements it.
type Generator interface {
	Generate(ctx context.Context, model string, messages []unifiedllm.Message) (string, error)
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	Budget              Budget `json:"budget"`
	MaxToolRounds       int    `json:"max_tool_rounds"` // per user input
	EnableLoopDetection bool   `json:"enable_loop_detection"`
	LoopDetectionWindow int    `json:"loop_detection_window"`
	// ContextWarningRatio of the profile's context window triggers a
	// warning event once the token estimate passes it.
	ContextWarningRatio float64 `json:"context_warning_ratio"`
	EventBufferSize     int     `json:"event_buffer_size"`
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Budget:              DefaultBudget(),
		MaxToolRounds:       50,
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
		ContextWarningRatio: 0.8,
		EventBufferSize:     256,
	}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger used for dispatch and enforcement logs.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session runs the agent loop: it owns the conversation, asks the model for
// replies, dispatches the tool calls found in them and feeds results back
// until a reply contains no tool calls.
//
// Run executes on the caller's goroutine. Messages, Stats and Reset must not
// be called while a Run is in progress; State, Events and Close may be.
type Session struct {
	id       string
	profile  *Profile
	env      ExecutionEnvironment
	client   Generator
	window   *ContextWindow
	loops    *LoopDetector
	emitter  *EventEmitter
	config   SessionConfig
	logger   *zap.Logger
	state    SessionState
	lastWarn int
	mu       sync.Mutex
}

// NewSession creates a session. A nil config uses DefaultSessionConfig.
func NewSession(client Generator, profile *Profile, env ExecutionEnvironment, config *SessionConfig, opts ...SessionOption) *Session {
	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultSessionConfig().MaxToolRounds
	}

	sessionID := uuid.New().String()
	s := &Session{
		id:      sessionID,
		profile: profile,
		env:     env,
		client:  client,
		loops:   NewLoopDetector(cfg.LoopDetectionWindow),
		emitter: NewEventEmitter(sessionID, cfg.EventBufferSize),
		config:  cfg,
		logger:  zap.NewNop(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_id", sessionID))
	s.window = NewContextWindow(profile.SystemPrompt(env), cfg.Budget)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []unifiedllm.Message {
	return s.window.Messages()
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// ContextStats describes the current conversation size.
type ContextStats struct {
	Messages        int
	ToolOutputs     int
	Chars           int
	EstimatedTokens int
	Budget          Budget
}

// Stats returns the current conversation size.
func (s *Session) Stats() ContextStats {
	msgs := s.window.Messages()
	return ContextStats{
		Messages:        len(msgs),
		ToolOutputs:     s.window.ToolOutputCount(),
		Chars:           s.window.TotalChars(),
		EstimatedTokens: EstimateMessageTokens(msgs),
		Budget:          s.window.Budget(),
	}
}

// Reset clears the conversation, keeping the system prompt.
func (s *Session) Reset() {
	s.window.Reset()
	s.loops.Reset()
	s.lastWarn = 0
}

// Close terminates the session and closes the event channel.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]any{
		"state": string(StateClosed),
	})
	s.emitter.Close()
}

// Run processes one user input and returns the model's final reply. Tool
// failures are reported to the model as tool output and never end the run;
// only a failed model request does.
func (s *Session) Run(ctx context.Context, userInput string) (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return "", ErrSessionClosed
	case StateProcessing:
		s.mu.Unlock()
		return "", ErrSessionBusy
	}
	s.state = StateProcessing
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateProcessing {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()

	return s.processInput(ctx, userInput)
}

func (s *Session) processInput(ctx context.Context, userInput string) (string, error) {
	s.enforce("user_input")
	s.window.AppendUser(userInput)
	s.emitter.Emit(EventUserInput, map[string]any{
		"content": userInput,
	})

	rounds := 0
	for {
		if err := ctx.Err(); err != nil {
			s.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			return "", err
		}

		s.enforce("before_request")
		reply, err := s.client.Generate(ctx, s.profile.Model, s.window.Messages())
		if err != nil {
			s.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			s.logger.Error("model request failed", zap.Error(err))
			return "", fmt.Errorf("generating reply: %w", err)
		}

		s.window.AppendAssistant(reply)
		s.emitter.Emit(EventAssistantText, map[string]any{"text": reply})
		s.checkContextUsage()

		calls := toolcall.Extract(reply)
		if len(calls) == 0 {
			return reply, nil
		}

		if rounds >= s.config.MaxToolRounds {
			s.emitter.Emit(EventTurnLimit, map[string]any{"rounds": rounds})
			s.logger.Warn("tool round limit reached", zap.Int("rounds", rounds))
			return reply, nil
		}
		rounds++

		for _, call := range calls {
			result := s.executeTool(ctx, call)
			s.window.AppendToolOutput(FormatToolOutput(result, userInput))
			s.enforce("tool_output")

			if s.config.EnableLoopDetection && s.loops.Observe(call) {
				warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", s.loops.window)
				s.window.AppendUser(warning)
				s.emitter.Emit(EventLoopDetection, map[string]any{"message": warning})
				s.logger.Warn("tool call loop detected", zap.String("tool", call.Name))
				s.loops.Reset()
			}
		}
	}
}

// FormatToolOutput wraps a tool result as a tool-output message that
// reminds the model of the request it serves.
func FormatToolOutput(result, userInput string) string {
	return fmt.Sprintf("%s %s\n\n(Remember to use this information to answer the user's original request: '%s')",
		ToolOutputPrefix, result, userInput)
}

// executeTool dispatches one call through the registry. It always returns
// text: unknown tools, bad arguments, errors and panics become error text.
func (s *Session) executeTool(ctx context.Context, call toolcall.Call) string {
	start := time.Now()
	s.emitter.Emit(EventToolCallStart, map[string]any{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"arguments": call.Args,
	})

	result, err := s.dispatch(ctx, call)
	duration := time.Since(start)

	end := map[string]any{
		"tool_name":   call.Name,
		"call_id":     call.ID,
		"output":      result,
		"duration_ms": duration.Milliseconds(),
	}
	fields := []zap.Field{
		zap.String("tool", call.Name),
		zap.String("call_id", call.ID),
		zap.Duration("duration", duration),
	}
	if err != nil {
		end["error"] = err.Error()
		s.logger.Info("tool call failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("tool call completed", append(fields, zap.Int("output_chars", len(result)))...)
	}
	s.emitter.Emit(EventToolCallEnd, end)
	return result
}

func (s *Session) dispatch(ctx context.Context, call toolcall.Call) (string, error) {
	tool, ok := s.profile.Registry.Get(call.Name)
	if !ok {
		err := fmt.Errorf("tool %q not found", call.Name)
		return fmt.Sprintf("Error: Tool '%s' not found.", call.Name), err
	}
	if call.Args == nil {
		err := errors.New("arguments must be a JSON object")
		return "Error executing tool: " + err.Error(), err
	}

	out, err := safeExecute(ctx, tool, call.Args)
	if err != nil {
		return fmt.Sprintf("Error executing tool: %v", err), err
	}
	return out, nil
}

// safeExecute runs a tool, converting a panic into an error.
func safeExecute(ctx context.Context, tool Tool, args map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", tool.Name(), r)
		}
	}()
	return tool.Execute(ctx, args)
}

// enforce applies the budget and reports what changed.
func (s *Session) enforce(trigger string) {
	stats := s.window.EnforceLimits()
	if !stats.Changed() {
		return
	}
	s.logger.Debug("context limits enforced",
		zap.String("trigger", trigger),
		zap.Int("truncated_tool_outputs", stats.TruncatedToolOutputs),
		zap.Int("dropped_tool_outputs", stats.DroppedToolOutputs),
		zap.Int("dropped_messages", stats.DroppedMessages),
		zap.Int("chars_before", stats.CharsBefore),
		zap.Int("chars_after", stats.CharsAfter),
	)
	s.emitter.Emit(EventContextEnforced, map[string]any{
		"trigger":                trigger,
		"truncated_tool_outputs": stats.TruncatedToolOutputs,
		"dropped_tool_outputs":   stats.DroppedToolOutputs,
		"dropped_messages":       stats.DroppedMessages,
		"chars_before":           stats.CharsBefore,
		"chars_after":            stats.CharsAfter,
	})
}

// checkContextUsage emits a warning when the token estimate passes the
// configured share of the model's context window. It warns once per
// percentage point reached.
func (s *Session) checkContextUsage() {
	window := s.profile.ContextWindowTokens
	ratio := s.config.ContextWarningRatio
	if window <= 0 || ratio <= 0 {
		return
	}

	tokens := EstimateMessageTokens(s.window.Messages())
	if float64(tokens) <= float64(window)*ratio {
		return
	}
	pct := tokens * 100 / window
	if pct <= s.lastWarn {
		return
	}
	s.lastWarn = pct

	msg := fmt.Sprintf("Context usage at ~%d%% of context window", pct)
	s.logger.Warn("context usage high", zap.Int("estimated_tokens", tokens), zap.Int("context_window", window))
	s.emitter.Emit(EventWarning, map[string]any{
		"message":          msg,
		"estimated_tokens": tokens,
	})
}
