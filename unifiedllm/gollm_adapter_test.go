package unifiedllm

import (
	"errors"
	"testing"
)

func TestGollmAdapterName(t *testing.T) {
	// Creation may fail without network-valid credentials; Name() is checked
	// only when it succeeds.
	for _, backend := range []string{"openai", "anthropic"} {
		adapter, err := NewGollmAdapter(backend, "test-key-not-real", WithModel("test-model"))
		if err != nil {
			if !errors.As(err, new(*ConfigurationError)) {
				t.Errorf("expected ConfigurationError, got %T", err)
			}
			t.Logf("skipping %s adapter creation: %v", backend, err)
			continue
		}
		if adapter.Name() != "gollm/"+backend {
			t.Errorf("expected name %q, got %q", "gollm/"+backend, adapter.Name())
		}
	}
}

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "gollm/openai"}

	tests := []struct {
		errMsg    string
		check     func(error) bool
		retryable bool
	}{
		{"401 Unauthorized", func(e error) bool { return errors.As(e, new(*AuthenticationError)) }, false},
		{"invalid api key", func(e error) bool { return errors.As(e, new(*AuthenticationError)) }, false},
		{"403 Forbidden", func(e error) bool { return errors.As(e, new(*AccessDeniedError)) }, false},
		{"404 not found", func(e error) bool { return errors.As(e, new(*NotFoundError)) }, false},
		{"429 rate limit exceeded", func(e error) bool { return errors.As(e, new(*RateLimitError)) }, true},
		{"context length exceeded", func(e error) bool { return errors.As(e, new(*ContextLengthError)) }, false},
		{"500 internal server error", func(e error) bool { return errors.As(e, new(*ServerError)) }, true},
		{"502 bad gateway", func(e error) bool { return errors.As(e, new(*ServerError)) }, true},
		{"service unavailable", func(e error) bool { return errors.As(e, new(*ServerError)) }, true},
		{"504 gateway timeout", func(e error) bool { return errors.As(e, new(*ServerError)) }, true},
		{"timeout waiting for response", func(e error) bool { return errors.As(e, new(*RequestTimeoutError)) }, true},
		{"dial tcp: connection refused", func(e error) bool { return errors.As(e, new(*NetworkError)) }, true},
		{"content filter triggered", func(e error) bool { return errors.As(e, new(*ContentFilterError)) }, false},
		{"something unknown", func(e error) bool { return errors.As(e, new(*ProviderError)) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.errMsg, func(t *testing.T) {
			err := adapter.translateError(errForMsg(tt.errMsg))
			if err == nil {
				t.Fatal("expected non-nil error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error type %T", err)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("expected retryable=%v", tt.retryable)
			}
		})
	}

	if adapter.translateError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
func errForMsg(msg string) error     { return &simpleError{msg: msg} }

func TestRenderTurns(t *testing.T) {
	t.Run("single user message stays bare", func(t *testing.T) {
		got := renderTurns([]Message{UserMessage("hello")})
		if got != "hello" {
			t.Errorf("expected %q, got %q", "hello", got)
		}
	})

	t.Run("history is labeled in order", func(t *testing.T) {
		got := renderTurns([]Message{
			UserMessage("list files"),
			AssistantMessage("calling tool"),
			UserMessage("Tool Output: a.go"),
		})
		expected := "[User]: list files\n\n[Assistant]: calling tool\n\n[User]: Tool Output: a.go"
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := renderTurns(nil); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})
}
