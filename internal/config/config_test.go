package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
providers:
  openrouter:
    type: openrouter
    api_key: test-key
models:
  analyst:
    provider: openrouter
    model: some/model
    default: true
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Agent.MaxTurns)
	require.Equal(t, 2000, cfg.Agent.MaxTokensPerTool)
	require.Equal(t, 0.7, cfg.Agent.Temperature)
	require.Equal(t, 4096, cfg.Agent.MaxTokens)
	require.Equal(t, "/home/user/repo", cfg.Sandbox.RepoPath)
	require.Equal(t, 300, cfg.Sandbox.TimeoutSeconds)
	require.Equal(t, "OpenQuest Agent", cfg.GitHub.BotName)
	require.Equal(t, "agent@openquest.dev", cfg.GitHub.BotEmail)
	require.Equal(t, time.Hour, cfg.Sessions.TTL)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "ndjson", cfg.Server.Transport)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
agent:
  max_turns: 3
sessions:
  ttl: 30m
server:
  transport: connect
`))
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Agent.MaxTurns)
	require.Equal(t, 30*time.Minute, cfg.Sessions.TTL)
	require.Equal(t, "connect", cfg.Server.Transport)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"no providers", func(c *Config) { c.Providers = nil }, "at least one provider"},
		{"no models", func(c *Config) { c.Models = nil }, "at least one model"},
		{"provider missing type", func(c *Config) {
			p := c.Providers["openrouter"]
			p.Type = ""
			c.Providers["openrouter"] = p
		}, "must define type"},
		{"model unknown provider", func(c *Config) {
			m := c.Models["analyst"]
			m.Provider = "ghost"
			c.Models["analyst"] = m
		}, "unknown provider"},
		{"no default model", func(c *Config) {
			m := c.Models["analyst"]
			m.Default = false
			c.Models["analyst"] = m
		}, "default"},
		{"bad temperature", func(c *Config) {
			m := c.Models["analyst"]
			m.Temperature = 3
			c.Models["analyst"] = m
		}, "temperature"},
		{"zero turns", func(c *Config) { c.Agent.MaxTurns = 0 }, "max_turns"},
		{"zero tool budget", func(c *Config) { c.Agent.MaxTokensPerTool = 0 }, "max_tokens_per_tool"},
		{"zero sandbox timeout", func(c *Config) { c.Sandbox.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"zero ttl", func(c *Config) { c.Sessions.TTL = 0 }, "ttl"},
		{"bad transport", func(c *Config) { c.Server.Transport = "grpc" }, "transport"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimalConfig))
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.message)
		})
	}
}
