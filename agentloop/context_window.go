package agentloop

import (
	"strings"
	"unicode/utf8"

	"github.com/martinemde/codeloop/unifiedllm"
)

// ToolOutputPrefix tags a user message as carrying a tool result. It is the
// only thing that distinguishes tool output from a genuine user turn.
const ToolOutputPrefix = "Tool Output:"

// Budget bounds the size of a conversation. Sizes are in characters.
type Budget struct {
	MaxToolOutputChars    int `json:"max_tool_output_chars" yaml:"max_tool_output_chars"`
	MaxToolOutputMessages int `json:"max_tool_output_messages" yaml:"max_tool_output_messages"`
	MaxContextChars       int `json:"max_context_chars" yaml:"max_context_chars"`
	MinMessagesToKeep     int `json:"min_messages_to_keep" yaml:"min_messages_to_keep"`
}

// DefaultBudget returns the default conversation budget.
func DefaultBudget() Budget {
	return Budget{
		MaxToolOutputChars:    8000,
		MaxToolOutputMessages: 6,
		MaxContextChars:       60000,
		MinMessagesToKeep:     10,
	}
}

// withDefaults replaces non-positive fields with their defaults.
func (b Budget) withDefaults() Budget {
	d := DefaultBudget()
	if b.MaxToolOutputChars <= 0 {
		b.MaxToolOutputChars = d.MaxToolOutputChars
	}
	if b.MaxToolOutputMessages <= 0 {
		b.MaxToolOutputMessages = d.MaxToolOutputMessages
	}
	if b.MaxContextChars <= 0 {
		b.MaxContextChars = d.MaxContextChars
	}
	if b.MinMessagesToKeep <= 0 {
		b.MinMessagesToKeep = d.MinMessagesToKeep
	}
	return b
}

// EnforceStats summarizes what one EnforceLimits pass changed.
type EnforceStats struct {
	TruncatedToolOutputs int
	DroppedToolOutputs   int
	DroppedMessages      int
	CharsBefore          int
	CharsAfter           int
}

// Changed reports whether the pass modified the conversation.
func (s EnforceStats) Changed() bool {
	return s.TruncatedToolOutputs > 0 || s.DroppedToolOutputs > 0 || s.DroppedMessages > 0
}

// ContextWindow owns a conversation and keeps it within a Budget. The
// optional system message stays at index 0 and is never removed.
//
// A ContextWindow is not safe for concurrent use.
type ContextWindow struct {
	budget   Budget
	messages []unifiedllm.Message
}

// NewContextWindow creates a conversation starting with systemPrompt, or
// empty when systemPrompt is "". Non-positive budget fields take defaults.
func NewContextWindow(systemPrompt string, budget Budget) *ContextWindow {
	w := &ContextWindow{budget: budget.withDefaults()}
	if systemPrompt != "" {
		w.messages = append(w.messages, unifiedllm.SystemMessage(systemPrompt))
	}
	return w
}

// Budget returns the limits the window enforces.
func (w *ContextWindow) Budget() Budget { return w.budget }

// Messages returns a copy of the conversation.
func (w *ContextWindow) Messages() []unifiedllm.Message {
	out := make([]unifiedllm.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Len returns the number of messages.
func (w *ContextWindow) Len() int { return len(w.messages) }

// TotalChars returns the summed content length of all messages.
func (w *ContextWindow) TotalChars() int {
	return unifiedllm.TotalChars(w.messages)
}

// ToolOutputCount returns the number of tool-output messages.
func (w *ContextWindow) ToolOutputCount() int {
	n := 0
	for _, m := range w.messages {
		if IsToolOutput(m) {
			n++
		}
	}
	return n
}

// AppendUser adds a user turn.
func (w *ContextWindow) AppendUser(text string) {
	w.messages = append(w.messages, unifiedllm.UserMessage(text))
}

// AppendAssistant adds a model reply.
func (w *ContextWindow) AppendAssistant(text string) {
	w.messages = append(w.messages, unifiedllm.AssistantMessage(text))
}

// AppendToolOutput adds content as a tool-output message, tagging it with
// ToolOutputPrefix when it is not already tagged.
func (w *ContextWindow) AppendToolOutput(content string) {
	if !strings.HasPrefix(content, ToolOutputPrefix) {
		content = ToolOutputPrefix + " " + content
	}
	w.messages = append(w.messages, unifiedllm.UserMessage(content))
}

// Reset drops everything except the system message.
func (w *ContextWindow) Reset() {
	if w.hasSystem() {
		w.messages = w.messages[:1]
		return
	}
	w.messages = nil
}

// IsToolOutput reports whether m is a tagged tool-output message.
func IsToolOutput(m unifiedllm.Message) bool {
	return m.Role == unifiedllm.RoleUser && strings.HasPrefix(m.Content, ToolOutputPrefix)
}

// EnforceLimits brings the conversation back within budget in three ordered
// phases: truncate oversized tool outputs, drop tool outputs beyond the
// count limit (oldest first), then drop oldest messages while the total
// exceeds MaxContextChars. The last phase prefers tool outputs, stops at
// two messages, and will not drop ordinary messages below
// MinMessagesToKeep, so the total may remain over budget.
func (w *ContextWindow) EnforceLimits() EnforceStats {
	stats := EnforceStats{CharsBefore: w.TotalChars()}

	// Phase 1: per-message truncation.
	budget := w.budget.MaxToolOutputChars - utf8.RuneCountInString(ToolOutputPrefix) - 1
	for i, m := range w.messages {
		n := utf8.RuneCountInString(m.Content)
		if !IsToolOutput(m) || n <= w.budget.MaxToolOutputChars {
			continue
		}
		rest := strings.TrimPrefix(m.Content, ToolOutputPrefix)
		rest = strings.TrimPrefix(rest, " ")
		if strings.HasPrefix(rest, truncationMarker) && n <= w.budget.MaxToolOutputChars+truncationOverhead {
			// Already truncated; the marker may push a small budget over.
			continue
		}
		w.messages[i].Content = ToolOutputPrefix + " " + TruncateText(rest, budget)
		stats.TruncatedToolOutputs++
	}

	// Phase 2: count limit.
	if excess := w.ToolOutputCount() - w.budget.MaxToolOutputMessages; excess > 0 {
		kept := w.messages[:0]
		for _, m := range w.messages {
			if excess > 0 && IsToolOutput(m) {
				excess--
				stats.DroppedToolOutputs++
				continue
			}
			kept = append(kept, m)
		}
		w.messages = kept
	}

	// Phase 3: aggregate limit.
	start := 0
	if w.hasSystem() {
		start = 1
	}
	for w.TotalChars() > w.budget.MaxContextChars && len(w.messages) > 2 {
		if i := w.oldestToolOutput(start); i >= 0 {
			w.remove(i)
			stats.DroppedToolOutputs++
			continue
		}
		if len(w.messages)-start <= w.budget.MinMessagesToKeep {
			break
		}
		w.remove(start)
		stats.DroppedMessages++
	}

	stats.CharsAfter = w.TotalChars()
	return stats
}

func (w *ContextWindow) hasSystem() bool {
	return len(w.messages) > 0 && w.messages[0].Role == unifiedllm.RoleSystem
}

func (w *ContextWindow) oldestToolOutput(from int) int {
	for i := from; i < len(w.messages); i++ {
		if IsToolOutput(w.messages[i]) {
			return i
		}
	}
	return -1
}

func (w *ContextWindow) remove(i int) {
	w.messages = append(w.messages[:i], w.messages[i+1:]...)
}
