package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/curatord/internal/agent"
)

// jsonInstruction is appended to prompts that expect a JSON object back.
const jsonInstruction = "Respond with a single valid JSON object and no other text."

// Client wraps a langchaingo model. It implements agent.LLM and
// agent.JSONGenerator and is safe for concurrent use.
type Client struct {
	model       llms.Model
	limiter     *rate.Limiter
	maxTokens   int
	temperature float64
	maxRetries  int
	baseBackoff time.Duration
	timeout     time.Duration
	logger      *zap.Logger
}

var (
	_ agent.LLM           = (*Client)(nil)
	_ agent.JSONGenerator = (*Client)(nil)
)

// New creates a client for cfg, constructing the provider model.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, cfg, logger), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, cfg Config, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		model:       model,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Generate runs a completion for prompt with an optional system message.
func (c *Client) Generate(ctx context.Context, prompt, system string) (agent.Generation, error) {
	return c.generate(ctx, prompt, system)
}

// GenerateJSON runs a completion that is instructed to return JSON. The
// caller decodes the text.
func (c *Client) GenerateJSON(ctx context.Context, prompt, system string) (agent.Generation, error) {
	return c.generate(ctx, prompt+"\n\n"+jsonInstruction, system)
}

func (c *Client) generate(ctx context.Context, prompt, system string) (agent.Generation, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return agent.Generation{}, ctx.Err()
			}
		}
		// Every attempt, retries included, counts against the limit.
		if err := c.limiter.Wait(ctx); err != nil {
			return agent.Generation{}, fmt.Errorf("rate limiter: %w", err)
		}

		gen, err := c.call(ctx, messages)
		if err == nil {
			return gen, nil
		}

		lastErr = err
		if !isRetryable(ctx, err) {
			return agent.Generation{}, err
		}
		c.logger.Debug("llm call failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return agent.Generation{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) call(ctx context.Context, messages []llms.MessageContent) (agent.Generation, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(callCtx, messages,
		llms.WithMaxTokens(c.maxTokens),
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		return agent.Generation{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return agent.Generation{}, errEmptyResponse
	}

	choice := resp.Choices[0]
	return agent.Generation{
		Text:       choice.Content,
		TokensUsed: tokensUsed(choice, messages),
	}, nil
}

var errEmptyResponse = errors.New("empty response from model")

// tokensUsed reads token counts from provider generation info, falling back
// to a length-based estimate.
func tokensUsed(choice *llms.ContentChoice, messages []llms.MessageContent) int {
	for _, key := range []string{"TotalTokens", "total_tokens"} {
		if n, ok := asInt(choice.GenerationInfo[key]); ok && n > 0 {
			return n
		}
	}

	in, inOK := asInt(choice.GenerationInfo["InputTokens"])
	out, outOK := asInt(choice.GenerationInfo["OutputTokens"])
	if inOK || outOK {
		return in + out
	}

	chars := len(choice.Content)
	for _, m := range messages {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				chars += len(t.Text)
			}
		}
	}
	return chars / 4
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// isRetryable treats everything as transient except cancellation of the
// caller's context, empty responses and authentication or request errors.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, errEmptyResponse) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{"401", "403", "invalid api key", "unauthorized", "400 bad request"} {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	return true
}
