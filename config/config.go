// Package config loads codeloop settings from a YAML or JSONC file and the
// environment, validates them, and converts them into the values the agent
// loop and request client take at construction.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/unifiedllm"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Provider names accepted in LLMConfig.Provider.
const (
	ProviderOpenAICompatible = "openai_compatible"
	ProviderGollm            = "gollm"
)

// Config is the full codeloop configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm" json:"llm"`
	Retry   RetryConfig   `yaml:"retry" json:"retry"`
	Context ContextConfig `yaml:"context" json:"context"`
	Session SessionConfig `yaml:"session" json:"session"`
	Tools   ToolsConfig   `yaml:"tools" json:"tools"`

	// Instructions replace the default opening of the system prompt.
	Instructions string `yaml:"instructions" json:"instructions"`
	WorkDir      string `yaml:"workdir" json:"workdir" env:"CODELOOP_WORKDIR"`
	LogLevel     string `yaml:"log_level" json:"log_level" env:"CODELOOP_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFile      string `yaml:"log_file" json:"log_file" env:"CODELOOP_LOG_FILE"`
}

// LLMConfig selects and configures the model endpoint.
type LLMConfig struct {
	Provider string `yaml:"provider" json:"provider" env:"CODELOOP_PROVIDER" validate:"oneof=openai_compatible gollm"`
	// Backend names the gollm provider ("openai", "anthropic", "ollama", ...).
	Backend        string `yaml:"backend" json:"backend" env:"CODELOOP_BACKEND" validate:"required_if=Provider gollm"`
	BaseURL        string `yaml:"base_url" json:"base_url" env:"CODELOOP_BASE_URL" validate:"required_if=Provider openai_compatible,omitempty,url"`
	APIKey         string `yaml:"api_key" json:"api_key" env:"OPENAI_API_KEY"`
	Model          string `yaml:"model" json:"model" env:"CODELOOP_MODEL" validate:"required"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds" env:"CODELOOP_TIMEOUT_SECONDS" validate:"gt=0"`
}

// RetryConfig configures request retries. Durations are in seconds.
type RetryConfig struct {
	MaxRetries  int     `yaml:"max_retries" json:"max_retries" env:"CODELOOP_MAX_RETRIES" validate:"gte=1"`
	BackoffBase float64 `yaml:"backoff_base" json:"backoff_base" env:"CODELOOP_BACKOFF_BASE" validate:"gt=0"`
	BackoffMax  float64 `yaml:"backoff_max" json:"backoff_max" env:"CODELOOP_BACKOFF_MAX" validate:"gtefield=BackoffBase"`
	JitterMax   float64 `yaml:"jitter_max" json:"jitter_max" validate:"gte=0"`
}

// ContextConfig bounds the conversation, in characters.
type ContextConfig struct {
	MaxToolOutputChars    int `yaml:"max_tool_output_chars" json:"max_tool_output_chars" env:"CODELOOP_MAX_TOOL_OUTPUT_CHARS" validate:"gt=0"`
	MaxToolOutputMessages int `yaml:"max_tool_output_messages" json:"max_tool_output_messages" env:"CODELOOP_MAX_TOOL_OUTPUT_MESSAGES" validate:"gt=0"`
	MaxContextChars       int `yaml:"max_context_chars" json:"max_context_chars" env:"CODELOOP_MAX_CONTEXT_CHARS" validate:"gt=0"`
	MinMessagesToKeep     int `yaml:"min_messages_to_keep" json:"min_messages_to_keep" env:"CODELOOP_MIN_MESSAGES_TO_KEEP" validate:"gt=0"`
}

// SessionConfig tunes the agent loop.
type SessionConfig struct {
	MaxToolRounds       int     `yaml:"max_tool_rounds" json:"max_tool_rounds" env:"CODELOOP_MAX_TOOL_ROUNDS" validate:"gt=0"`
	EnableLoopDetection bool    `yaml:"enable_loop_detection" json:"enable_loop_detection"`
	LoopDetectionWindow int     `yaml:"loop_detection_window" json:"loop_detection_window" validate:"gt=0"`
	ContextWindowTokens int     `yaml:"context_window_tokens" json:"context_window_tokens" validate:"gt=0"`
	ContextWarningRatio float64 `yaml:"context_warning_ratio" json:"context_warning_ratio" validate:"gte=0,lte=1"`
}

// ToolsConfig tunes the core tools.
type ToolsConfig struct {
	DefaultCommandTimeoutMs int `yaml:"default_command_timeout_ms" json:"default_command_timeout_ms" validate:"gt=0"`
	MaxCommandTimeoutMs     int `yaml:"max_command_timeout_ms" json:"max_command_timeout_ms" validate:"gtefield=DefaultCommandTimeoutMs"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	budget := agentloop.DefaultBudget()
	retry := unifiedllm.DefaultRetryPolicy()
	session := agentloop.DefaultSessionConfig()
	tools := agentloop.DefaultToolOptions()

	return &Config{
		LLM: LLMConfig{
			Provider:       ProviderOpenAICompatible,
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 120,
		},
		Retry: RetryConfig{
			MaxRetries:  retry.MaxRetries,
			BackoffBase: retry.BackoffBase,
			BackoffMax:  retry.BackoffMax,
			JitterMax:   retry.JitterMax,
		},
		Context: ContextConfig{
			MaxToolOutputChars:    budget.MaxToolOutputChars,
			MaxToolOutputMessages: budget.MaxToolOutputMessages,
			MaxContextChars:       budget.MaxContextChars,
			MinMessagesToKeep:     budget.MinMessagesToKeep,
		},
		Session: SessionConfig{
			MaxToolRounds:       session.MaxToolRounds,
			EnableLoopDetection: session.EnableLoopDetection,
			LoopDetectionWindow: session.LoopDetectionWindow,
			ContextWindowTokens: agentloop.DefaultContextWindowTokens,
			ContextWarningRatio: session.ContextWarningRatio,
		},
		Tools: ToolsConfig{
			DefaultCommandTimeoutMs: tools.DefaultCommandTimeoutMs,
			MaxCommandTimeoutMs:     tools.MaxCommandTimeoutMs,
		},
		LogLevel: "info",
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path or a missing file
// yields the defaults. Files ending in .json or .jsonc are parsed as JSON
// with comments; anything else as YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
	}
	// An empty or comment-only file leaves the defaults in place.
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field constraint and reports all violations at
// once, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		msg := field + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Budget returns the conversation budget.
func (c *Config) Budget() agentloop.Budget {
	return agentloop.Budget{
		MaxToolOutputChars:    c.Context.MaxToolOutputChars,
		MaxToolOutputMessages: c.Context.MaxToolOutputMessages,
		MaxContextChars:       c.Context.MaxContextChars,
		MinMessagesToKeep:     c.Context.MinMessagesToKeep,
	}
}

// RetryPolicy returns the request retry policy.
func (c *Config) RetryPolicy() unifiedllm.RetryPolicy {
	return unifiedllm.RetryPolicy{
		MaxRetries:  c.Retry.MaxRetries,
		BackoffBase: c.Retry.BackoffBase,
		BackoffMax:  c.Retry.BackoffMax,
		JitterMax:   c.Retry.JitterMax,
	}
}

// SessionConfig returns the agent loop session settings.
func (c *Config) SessionConfig() agentloop.SessionConfig {
	cfg := agentloop.DefaultSessionConfig()
	cfg.Budget = c.Budget()
	cfg.MaxToolRounds = c.Session.MaxToolRounds
	cfg.EnableLoopDetection = c.Session.EnableLoopDetection
	cfg.LoopDetectionWindow = c.Session.LoopDetectionWindow
	cfg.ContextWarningRatio = c.Session.ContextWarningRatio
	return cfg
}

// ToolOptions returns the core tool settings.
func (c *Config) ToolOptions() agentloop.ToolOptions {
	return agentloop.ToolOptions{
		DefaultCommandTimeoutMs: c.Tools.DefaultCommandTimeoutMs,
		MaxCommandTimeoutMs:     c.Tools.MaxCommandTimeoutMs,
	}
}

// RequestTimeout returns the per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}
