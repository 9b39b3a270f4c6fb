package unifiedllm

import (
	"encoding/json"
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		role Role
		text string
	}{
		{"SystemMessage", SystemMessage("You are helpful."), RoleSystem, "You are helpful."},
		{"UserMessage", UserMessage("Hello"), RoleUser, "Hello"},
		{"AssistantMessage", AssistantMessage("Hi there"), RoleAssistant, "Hi there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Role != tt.role {
				t.Errorf("expected role %q, got %q", tt.role, tt.msg.Role)
			}
			if tt.msg.Content != tt.text {
				t.Errorf("expected text %q, got %q", tt.text, tt.msg.Content)
			}
		})
	}
}

func TestMessageWireFormat(t *testing.T) {
	data, err := json.Marshal(UserMessage("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"role":"user","content":"hi"}` {
		t.Errorf("unexpected encoding %s", data)
	}
}

func TestTotalChars(t *testing.T) {
	msgs := []Message{SystemMessage("abc"), UserMessage("de"), AssistantMessage("")}
	if got := TotalChars(msgs); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	if got := TotalChars(nil); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestTranscript(t *testing.T) {
	got := Transcript([]Message{UserMessage("a"), AssistantMessage("b")})
	if got != "user: a\n\nassistant: b" {
		t.Errorf("unexpected transcript %q", got)
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	b := Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
	sum := a.Add(b)
	if sum.InputTokens != 11 || sum.OutputTokens != 22 || sum.TotalTokens != 33 {
		t.Errorf("unexpected sum %+v", sum)
	}
}

func TestResponseText(t *testing.T) {
	resp := Response{Message: AssistantMessage("done")}
	if resp.Text() != "done" {
		t.Errorf("expected %q, got %q", "done", resp.Text())
	}
}
