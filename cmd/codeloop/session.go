package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/config"
	"github.com/martinemde/codeloop/unifiedllm"
)

// newClient builds the request client for the configured provider.
func newClient(c *config.Config, logger *zap.Logger) (*unifiedllm.Client, error) {
	var adapter unifiedllm.ProviderAdapter
	switch c.LLM.Provider {
	case config.ProviderGollm:
		a, err := unifiedllm.NewGollmAdapter(c.LLM.Backend, c.LLM.APIKey,
			unifiedllm.WithModel(c.LLM.Model))
		if err != nil {
			return nil, err
		}
		adapter = a
	default:
		adapter = unifiedllm.NewOpenAICompatibleAdapter(c.LLM.BaseURL, c.LLM.APIKey,
			unifiedllm.WithRequestTimeout(c.RequestTimeout()))
	}

	return unifiedllm.NewClient(
		unifiedllm.WithProvider(adapter.Name(), adapter),
		unifiedllm.WithDefaultProvider(adapter.Name()),
		unifiedllm.WithRetryPolicy(c.RetryPolicy()),
		unifiedllm.WithLogger(logger),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
	), nil
}

// newSession wires a session for the configured working directory. The
// caller closes both the session and the client.
func newSession(c *config.Config, logger *zap.Logger) (*agentloop.Session, *unifiedllm.Client, error) {
	env := agentloop.NewLocalExecutionEnvironment(c.WorkDir)
	if err := env.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("preparing working directory: %w", err)
	}

	client, err := newClient(c, logger)
	if err != nil {
		return nil, nil, err
	}

	profile := agentloop.NewProfile(c.LLM.Model, env, c.ToolOptions())
	profile.Instructions = c.Instructions
	profile.ContextWindowTokens = c.Session.ContextWindowTokens

	sc := c.SessionConfig()
	session := agentloop.NewSession(client, profile, env, &sc, agentloop.WithSessionLogger(logger))
	logger.Debug("session started",
		zap.String("session_id", session.ID()),
		zap.String("provider", c.LLM.Provider),
		zap.String("model", c.LLM.Model),
		zap.String("workdir", env.WorkingDirectory()),
	)
	return session, client, nil
}
