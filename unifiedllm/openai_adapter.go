package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	// maxErrorBodyBytes bounds how much of an error response is kept.
	maxErrorBodyBytes = 4096
	// maxResponseBytes bounds a successful completion body.
	maxResponseBytes = 32 << 20
)

// OpenAICompatibleAdapter talks to any endpoint implementing the
// chat-completions wire format: POST {base}/chat/completions with a bearer
// token, answering {choices: [{message: {content}}]}.
type OpenAICompatibleAdapter struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// OpenAIOption configures an OpenAICompatibleAdapter.
type OpenAIOption func(*OpenAICompatibleAdapter)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(a *OpenAICompatibleAdapter) {
		if hc != nil {
			a.httpClient = hc
		}
	}
}

// WithRequestTimeout sets the per-attempt timeout.
func WithRequestTimeout(d time.Duration) OpenAIOption {
	return func(a *OpenAICompatibleAdapter) {
		a.httpClient.Timeout = d
	}
}

// WithAdapterName overrides the provider identifier reported in errors.
func WithAdapterName(name string) OpenAIOption {
	return func(a *OpenAICompatibleAdapter) {
		a.name = name
	}
}

// NewOpenAICompatibleAdapter creates an adapter for baseURL (for example
// "https://api.openai.com/v1").
func NewOpenAICompatibleAdapter(baseURL, apiKey string, opts ...OpenAIOption) *OpenAICompatibleAdapter {
	a := &OpenAICompatibleAdapter{
		name:       "openai_compatible",
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider identifier.
func (a *OpenAICompatibleAdapter) Name() string {
	return a.name
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends one chat-completions request.
func (a *OpenAICompatibleAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, &InvalidResponseError{SDKError: SDKError{Message: "encoding request", Cause: err}}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "building request", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, a.translateTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.statusError(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, a.translateTransportError(ctx, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &InvalidResponseError{SDKError: SDKError{
			Message: fmt.Sprintf("[%s] decoding response: %s", a.name, truncateBody(string(raw))),
			Cause:   err,
		}}
	}
	if len(parsed.Choices) == 0 {
		return nil, &InvalidResponseError{SDKError: SDKError{
			Message: fmt.Sprintf("[%s] response has no choices: %s", a.name, truncateBody(string(raw))),
		}}
	}

	choice := parsed.Choices[0]
	id := parsed.ID
	if id == "" {
		id = "resp_" + uuid.New().String()[:8]
	}
	model := parsed.Model
	if model == "" {
		model = req.Model
	}

	return &Response{
		ID:           id,
		Model:        model,
		Provider:     a.name,
		Message:      AssistantMessage(choice.Message.Content),
		FinishReason: FinishReason{Reason: choice.FinishReason, Raw: choice.FinishReason},
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
	}, nil
}

// statusError builds the classified error for a non-2xx response.
func (a *OpenAICompatibleAdapter) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	body := strings.TrimSpace(string(raw))

	message := fmt.Sprintf("HTTP %d", resp.StatusCode)
	code := ""
	var envelope errorEnvelope
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		message += ": " + envelope.Error.Message
		code = envelope.Error.Type
	}

	err := ErrorFromStatusCode(resp.StatusCode, message, a.name, body, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	if pe, ok := AsProviderError(err); ok {
		pe.ErrorCode = code
	}
	return err
}

// translateTransportError classifies errors returned before a status code
// was available.
func (a *OpenAICompatibleAdapter) translateTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &AbortError{SDKError: SDKError{Message: "request aborted", Cause: ctxErr}}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RequestTimeoutError{ProviderError: ProviderError{
			SDKError:  SDKError{Message: "request timed out", Cause: err},
			Provider:  a.name,
			Retryable: true,
		}}
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr),
		errors.As(err, &dnsErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return &NetworkError{SDKError: SDKError{Message: fmt.Sprintf("[%s] connection failed", a.name), Cause: err}}
	}

	return &SDKError{Message: fmt.Sprintf("[%s] request failed", a.name), Cause: err}
}

// parseRetryAfter reads a Retry-After value given either as seconds or as an
// HTTP date. Negative values become zero.
func parseRetryAfter(value string, now time.Time) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return nil
		}
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	if when, err := http.ParseTime(value); err == nil {
		secs := when.Sub(now).Seconds()
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}

func truncateBody(s string) string {
	if len(s) > maxErrorBodyBytes {
		return s[:maxErrorBodyBytes] + "..."
	}
	return s
}
