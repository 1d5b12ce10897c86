package mock

import (
	"context"

	"github.com/Jacky040124/openquest/internal/llm"
)

// Provider is a test double implementing llm.Provider. Responses can either
// be scripted per-call via ChatFn or played back in order from Responses.
type Provider struct {
	NameValue string
	ChatFn    func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
	Responses []llm.ChatResponse

	Calls []llm.ChatRequest
}

func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	p.Calls = append(p.Calls, req)
	if p.ChatFn != nil {
		return p.ChatFn(ctx, req)
	}
	if n := len(p.Calls) - 1; n < len(p.Responses) {
		return p.Responses[n], nil
	}
	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.RoleAssistant,
			Content: "mock",
		},
		FinishReason: llm.FinishStop,
	}, nil
}
