// Package llm talks to OpenAI-compatible chat completion APIs to generate
// transcript summaries. Provider endpoints are configured, responses are
// validated for completeness before anything is persisted, and failures carry
// typed errors so callers can tell a flaky transport from a bad summary.
package llm

import (
	"fmt"
	"time"
)

// ProviderConfig describes one chat completion endpoint.
type ProviderConfig struct {
	Name              string        `json:"name"`
	BaseURL           string        `json:"base_url"`
	Model             string        `json:"model"`
	APIKeyEnv         string        `json:"api_key_env"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	ConnectTimeout    time.Duration `json:"-"`
	ReadTimeout       time.Duration `json:"-"`
}

// Validate checks a provider configuration at startup.
func (p ProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("provider name is empty")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("provider %s: base url is empty", p.Name)
	}
	if p.Model == "" {
		return fmt.Errorf("provider %s: model is empty", p.Name)
	}
	if p.APIKeyEnv == "" {
		return fmt.Errorf("provider %s: api key env var is empty", p.Name)
	}
	if p.RequestsPerMinute < 0 {
		return fmt.Errorf("provider %s: requests per minute must be >= 0", p.Name)
	}
	return nil
}

// MinInterval returns the minimum spacing between requests, zero when the
// provider is unthrottled.
func (p ProviderConfig) MinInterval() time.Duration {
	if p.RequestsPerMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(p.RequestsPerMinute)
}

// BuiltinProviders returns the known provider registry. Config may override
// any field or add providers.
func BuiltinProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"glm": {
			Name:      "Z.AI GLM",
			BaseURL:   "https://api.z.ai/api/coding/paas/v4/chat/completions",
			Model:     "glm-4.7",
			APIKeyEnv: "ZAI_API_KEY",
		},
		"chatgpt": {
			Name:              "OpenAI ChatGPT",
			BaseURL:           "https://api.openai.com/v1/chat/completions",
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestsPerMinute: 3,
		},
		"minimax": {
			Name:      "MiniMax Coding Plan",
			BaseURL:   "https://api.minimax.io/v1/chat/completions",
			Model:     "MiniMax-M2.1",
			APIKeyEnv: "MINIMAX_API_KEY",
		},
		"perplexity": {
			Name:      "Perplexity",
			BaseURL:   "https://api.perplexity.ai/chat/completions",
			Model:     "sonar",
			APIKeyEnv: "PERPLEXITY_API_KEY",
		},
	}
}

// DefaultProvider is the registry key used when config names none.
const DefaultProvider = "glm"
