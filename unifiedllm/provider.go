package unifiedllm

import "context"

// ProviderAdapter is the interface every model backend implements.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai_compatible", "gollm").
	Name() string

	// Complete sends one blocking request and returns the full response.
	// Adapters do not retry; the Client owns the retry policy.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
