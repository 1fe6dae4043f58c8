package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel constructs the langchaingo model for cfg.Provider.
func NewModel(cfg Config) (llms.Model, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(orDefault(cfg.Model, defaultOpenAIModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai model: %w", err)
		}
		return m, nil

	case ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(orDefault(cfg.Model, defaultAnthropicModel)),
		}
		m, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic model: %w", err)
		}
		return m, nil

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(orDefault(cfg.Model, defaultOllamaModel))}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating ollama model: %w", err)
		}
		return m, nil

	default:
		return NewStubModel(), nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
