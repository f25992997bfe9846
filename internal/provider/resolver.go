package provider

import (
	"fmt"
	"strings"

	"github.com/KafClaw/NetClaw/internal/config"
)

// providerAliases maps common aliases to canonical provider IDs.
var providerAliases = map[string]string{
	"claude":     "anthropic",
	"openrouter": "openai",
	"vllm":       "openai",
	"ollama":     "openai",
}

// NormalizeProviderID resolves aliases and normalizes the provider ID.
func NormalizeProviderID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := providerAliases[lower]; ok {
		return canonical
	}
	return lower
}

// ParseModelString splits a "provider/model" string into provider ID and model name.
func ParseModelString(s string) (providerID, modelName string) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "/", 2)
	if len(parts) < 2 {
		return "", s
	}
	return strings.ToLower(parts[0]), parts[1]
}

// Resolve creates the LLMProvider named by cfg.Model. A "provider/model"
// prefix on the model name wins over cfg.Model.Provider.
func Resolve(cfg *config.Config) (LLMProvider, error) {
	provID, model := ParseModelString(cfg.Model.Name)
	if provID == "" {
		provID = cfg.Model.Provider
	} else if _, known := providerAliases[provID]; !known && provID != "anthropic" && provID != "openai" {
		// OpenRouter-style "vendor/model" names go to the configured provider verbatim.
		provID, model = cfg.Model.Provider, cfg.Model.Name
	}

	switch NormalizeProviderID(provID) {
	case "anthropic":
		p := cfg.Providers.Anthropic
		if p.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider: ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicProvider(p.APIKey, p.APIBase, model), nil
	case "openai":
		p := cfg.Providers.OpenAI
		if p.APIKey == "" && p.APIBase == "" {
			return nil, fmt.Errorf("openai provider: OPENAI_API_KEY or OPENAI_API_BASE must be set")
		}
		return NewOpenAIProvider(p.APIKey, p.APIBase, model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provID)
	}
}
