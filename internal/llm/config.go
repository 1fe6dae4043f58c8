// Package llm adapts langchaingo models to the agent generation contract,
// adding rate limiting, retries with exponential backoff and token
// accounting.
package llm

import (
	"fmt"
	"time"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderStub      = "stub"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultOllamaModel    = "llama3.1"
	defaultMaxTokens      = 2048
	defaultTemperature    = 0.4
	defaultRateLimit      = 2.0
	defaultBurst          = 4
	defaultMaxRetries     = 3
	defaultBaseBackoff    = 500 * time.Millisecond
	defaultTimeout        = 60 * time.Second
)

// Config selects and tunes a backend.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
	// RateLimit is requests per second; zero uses the default.
	RateLimit  float64
	Burst      int
	MaxRetries int
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderStub
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Validate checks that the provider is known and has what it needs.
func (c Config) Validate() error {
	switch c.Provider {
	case "", ProviderStub, ProviderOllama:
		return nil
	case ProviderOpenAI, ProviderAnthropic:
		if c.APIKey == "" {
			return fmt.Errorf("%s provider requires an API key", c.Provider)
		}
		return nil
	default:
		return fmt.Errorf("unknown LLM provider %q", c.Provider)
	}
}
