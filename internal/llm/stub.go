package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// StubModel is an offline llms.Model that returns canned responses. It lets
// the daemon and tests run without network access or API keys.
type StubModel struct {
	// Responses, when set, are returned in order; the last one repeats.
	Responses []string

	mu    sync.Mutex
	calls int
}

var _ llms.Model = (*StubModel)(nil)

// NewStubModel creates a stub with no scripted responses.
func NewStubModel(responses ...string) *StubModel {
	return &StubModel{Responses: responses}
}

// GenerateContent implements llms.Model.
func (s *StubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var prompt strings.Builder
	for _, m := range messages {
		if m.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}

	text := s.next(prompt.String())
	tokens := (prompt.Len() + len(text)) / 4
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text,
			StopReason: "stop",
			GenerationInfo: map[string]any{
				"TotalTokens": tokens,
			},
		}},
	}, nil
}

// Call implements llms.Model.
func (s *StubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func (s *StubModel) next(prompt string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Responses) > 0 {
		i := s.calls
		if i >= len(s.Responses) {
			i = len(s.Responses) - 1
		}
		s.calls++
		return s.Responses[i]
	}

	summary := firstLine(prompt)
	if strings.Contains(prompt, jsonInstruction) {
		data, _ := json.Marshal(map[string]any{"summary": summary, "stub": true})
		return string(data)
	}
	return fmt.Sprintf("Draft response (offline model): %s", summary)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
