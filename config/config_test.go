package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/unifiedllm"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"OPENAI_API_KEY", "CODELOOP_BASE_URL", "CODELOOP_MODEL", "CODELOOP_PROVIDER",
		"CODELOOP_BACKEND", "CODELOOP_TIMEOUT_SECONDS",
		"CODELOOP_MAX_TOOL_OUTPUT_CHARS", "CODELOOP_MAX_TOOL_OUTPUT_MESSAGES",
		"CODELOOP_MAX_CONTEXT_CHARS", "CODELOOP_MIN_MESSAGES_TO_KEEP",
		"CODELOOP_MAX_RETRIES", "CODELOOP_BACKOFF_BASE", "CODELOOP_BACKOFF_MAX",
		"CODELOOP_MAX_TOOL_ROUNDS", "CODELOOP_WORKDIR", "CODELOOP_LOG_LEVEL", "CODELOOP_LOG_FILE",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, agentloop.DefaultBudget(), cfg.Budget())
	assert.Equal(t, agentloop.DefaultToolOptions(), cfg.ToolOptions())
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "codeloop.yaml", `
llm:
  model: local-model
  base_url: http://localhost:8080/v1
context:
  max_tool_output_chars: 4000
  max_tool_output_messages: 2
session:
  enable_loop_detection: false
instructions: Be terse.
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.LLM.Model = "local-model"
	want.LLM.BaseURL = "http://localhost:8080/v1"
	want.Context.MaxToolOutputChars = 4000
	want.Context.MaxToolOutputMessages = 2
	want.Session.EnableLoopDetection = false
	want.Instructions = "Be terse."
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadJSONC(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "codeloop.jsonc", `{
  // Local gollm backend.
  "llm": {
    "provider": "gollm",
    "backend": "ollama",
    "model": "llama3", /* inline */
  },
  "retry": {"max_retries": 5},
}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderGollm, cfg.LLM.Provider)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.RetryPolicy().MaxRetries)
	assert.Equal(t, DefaultConfig().Retry.BackoffBase, cfg.Retry.BackoffBase)
}

func TestLoadEmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "empty.yaml", "# nothing yet\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadUnknownField(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "bad.yaml", "llm:\n  modle: typo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modle")

	_, err = Load(writeConfig(t, "bad.json", `{"contxt": {}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contxt")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "codeloop.yaml", "llm:\n  model: from-file\n")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CODELOOP_MODEL", "from-env")
	t.Setenv("CODELOOP_MAX_CONTEXT_CHARS", "12345")
	t.Setenv("CODELOOP_MIN_MESSAGES_TO_KEEP", "4")
	t.Setenv("CODELOOP_MAX_RETRIES", "7")
	t.Setenv("CODELOOP_BACKOFF_BASE", "0.5")
	t.Setenv("CODELOOP_BACKOFF_MAX", "4")
	t.Setenv("CODELOOP_WORKDIR", "/srv/project")
	t.Setenv("CODELOOP_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, 12345, cfg.Budget().MaxContextChars)
	assert.Equal(t, 4, cfg.Budget().MinMessagesToKeep)
	assert.Equal(t, "/srv/project", cfg.WorkDir)
	assert.Equal(t, "debug", cfg.LogLevel)

	policy := cfg.RetryPolicy()
	assert.Equal(t, unifiedllm.RetryPolicy{
		MaxRetries:  7,
		BackoffBase: 0.5,
		BackoffMax:  4,
		JitterMax:   DefaultConfig().Retry.JitterMax,
	}, policy)
}

func TestLoadEnvParseError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODELOOP_MAX_RETRIES", "lots")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading environment")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.LLM.Provider = "carrier-pigeon" },
			wantErr: "llm.provider failed oneof",
		},
		{
			name:    "gollm without backend",
			mutate:  func(c *Config) { c.LLM.Provider = ProviderGollm },
			wantErr: "llm.backend failed required_if",
		},
		{
			name:    "bad base url",
			mutate:  func(c *Config) { c.LLM.BaseURL = "not a url" },
			wantErr: "llm.base_url failed url",
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.LLM.BaseURL = "" },
			wantErr: "llm.base_url failed required_if",
		},
		{
			name:    "zero retries",
			mutate:  func(c *Config) { c.Retry.MaxRetries = 0 },
			wantErr: "retry.max_retries failed gte=1",
		},
		{
			name:    "backoff max below base",
			mutate:  func(c *Config) { c.Retry.BackoffMax = 0.1 },
			wantErr: "retry.backoff_max failed gtefield=BackoffBase",
		},
		{
			name:    "non-positive budget",
			mutate:  func(c *Config) { c.Context.MaxContextChars = 0 },
			wantErr: "context.max_context_chars failed gt=0",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "log_level failed oneof",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Model = ""
	cfg.Session.MaxToolRounds = -1
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "llm.model failed required")
	assert.Contains(t, err.Error(), "session.max_tool_rounds failed gt=0")
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "codeloop.yaml", "retry:\n  max_retries: 0\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSessionConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.MaxToolRounds = 9
	cfg.Session.EnableLoopDetection = false
	cfg.Context.MaxToolOutputMessages = 3

	sc := cfg.SessionConfig()
	assert.Equal(t, 9, sc.MaxToolRounds)
	assert.False(t, sc.EnableLoopDetection)
	assert.Equal(t, 3, sc.Budget.MaxToolOutputMessages)
	assert.Equal(t, agentloop.DefaultSessionConfig().EventBufferSize, sc.EventBufferSize)
}
