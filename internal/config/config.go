package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version   string                    `mapstructure:"version"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"`
	Agent     AgentConfig               `mapstructure:"agent"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox"`
	GitHub    GitHubConfig              `mapstructure:"github"`
	Sessions  SessionConfig             `mapstructure:"sessions"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Server    ServerConfig              `mapstructure:"server"`
}

// ProviderConfig represents an LLM provider entry such as OpenRouter or any
// OpenAI-compatible gateway.
type ProviderConfig struct {
	Type    string        `mapstructure:"type"`     // openrouter, openai, custom
	BaseURL string        `mapstructure:"base_url"` // API base URL
	APIKey  string        `mapstructure:"api_key"`  // API key (required for hosted providers)
	Timeout time.Duration `mapstructure:"timeout"`  // request timeout
}

// ModelConfig binds a logical model name to a provider entry and model parameters.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Default     bool    `mapstructure:"default"`
}

// AgentConfig describes the analysis loop's runtime budgets.
type AgentConfig struct {
	MaxTurns         int     `mapstructure:"max_turns"`
	MaxTokensPerTool int     `mapstructure:"max_tokens_per_tool"`
	Temperature      float64 `mapstructure:"temperature"`
	MaxTokens        int     `mapstructure:"max_tokens"`
}

// SandboxConfig controls the ephemeral execution environment.
type SandboxConfig struct {
	APIKey         string `mapstructure:"api_key"`  // backing sandbox service credential
	RepoPath       string `mapstructure:"repo_path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	WorkDir        string `mapstructure:"work_dir"` // base directory for local sessions
}

// GitHubConfig carries the service-level GitHub settings. Per-run push
// credentials arrive with each implement request, not here.
type GitHubConfig struct {
	BotName  string `mapstructure:"bot_name"`
	BotEmail string `mapstructure:"bot_email"`
}

// SessionConfig controls the analysis-session store.
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: OPENQUEST_, dots replaced
// with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OPENQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is acceptable; env and defaults still apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("agent.max_turns", 10)
	v.SetDefault("agent.max_tokens_per_tool", 2000)
	v.SetDefault("agent.temperature", 0.7)
	v.SetDefault("agent.max_tokens", 4096)

	v.SetDefault("sandbox.repo_path", "/home/user/repo")
	v.SetDefault("sandbox.timeout_seconds", 300)
	v.SetDefault("sandbox.work_dir", "")

	v.SetDefault("github.bot_name", "OpenQuest Agent")
	v.SetDefault("github.bot_email", "agent@openquest.dev")

	v.SetDefault("sessions.ttl", time.Hour)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "ndjson")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be defined")
	}

	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q must define type", name)
		}
	}

	var defaultFound bool
	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}
		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}
		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("model %q temperature must be within [0,2]", name)
		}
		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}
		if m.Default {
			defaultFound = true
		}
	}

	if !defaultFound {
		return errors.New("at least one model should be marked as default")
	}

	if c.Agent.MaxTurns <= 0 {
		return errors.New("agent.max_turns must be > 0")
	}
	if c.Agent.MaxTokensPerTool <= 0 {
		return errors.New("agent.max_tokens_per_tool must be > 0")
	}
	if c.Agent.MaxTokens < 0 {
		return errors.New("agent.max_tokens must be >= 0")
	}

	if c.Sandbox.TimeoutSeconds <= 0 {
		return errors.New("sandbox.timeout_seconds must be > 0")
	}
	if strings.TrimSpace(c.Sandbox.RepoPath) == "" {
		return errors.New("sandbox.repo_path must be set")
	}

	if c.Sessions.TTL <= 0 {
		return errors.New("sessions.ttl must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}
