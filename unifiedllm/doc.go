// Package unifiedllm sends conversations to a model endpoint and returns the
// generated text, masking transient failures behind a retry policy.
//
// # Architecture
//
//   - Provider layer: the ProviderAdapter interface, with
//     OpenAICompatibleAdapter (chat-completions over HTTP with bearer auth)
//     and GollmAdapter (any backend supported by github.com/teilomillet/gollm).
//   - Utilities: the error hierarchy, IsRetryable classification and the
//     generic Retry helper driven by RetryPolicy.
//   - Client: provider routing, middleware and retries.
//
// # Retry classification
//
// HTTP 408, 429, 500, 502, 503 and 504 and transport timeouts or connection
// failures are retryable. Everything else, including caller cancellation,
// fails immediately. MaxRetries counts total attempts. The delay before retry
// n is the server's Retry-After when present, otherwise
// BackoffBase*2^(n-1) plus up to JitterMax of jitter, always clamped to
// [0, BackoffMax].
//
// # Quick Start
//
//	adapter := unifiedllm.NewOpenAICompatibleAdapter("https://api.openai.com/v1", os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(unifiedllm.WithProvider(adapter.Name(), adapter))
//
//	text, err := client.Generate(ctx, "gpt-4o-mini", []unifiedllm.Message{
//	    unifiedllm.UserMessage("Hello"),
//	})
package unifiedllm
