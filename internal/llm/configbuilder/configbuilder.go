package configbuilder

import (
	"fmt"

	"github.com/Jacky040124/openquest/internal/config"
	"github.com/Jacky040124/openquest/internal/llm"
	"github.com/Jacky040124/openquest/internal/llm/openrouter"
)

// BuildRegistryFromConfig constructs a registry and providers from config.
func BuildRegistryFromConfig(cfg *config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()

	for name, pCfg := range cfg.Providers {
		p, err := buildProvider(name, pCfg)
		if err != nil {
			return nil, err
		}
		reg.RegisterProvider(name, p)
	}

	for name, mCfg := range cfg.Models {
		reg.RegisterModel(name, llm.ModelRoute{
			Provider:    mCfg.Provider,
			Model:       mCfg.Model,
			Temperature: mCfg.Temperature,
			MaxTokens:   mCfg.MaxTokens,
		}, mCfg.Default)
	}

	if _, _, err := reg.Resolve(""); err != nil {
		return nil, err
	}

	return reg, nil
}

func buildProvider(name string, cfg config.ProviderConfig) (llm.Provider, error) {
	switch cfg.Type {
	case "openrouter":
		return openrouter.NewProvider(name, cfg.BaseURL, cfg.APIKey, cfg.Timeout,
			openrouter.WithAttribution("https://openquest.dev", "OpenQuest")), nil
	case "openai", "custom":
		return openrouter.NewProvider(name, cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q for provider %s", cfg.Type, name)
	}
}
