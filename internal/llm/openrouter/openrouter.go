// Package openrouter implements an OpenAI-compatible chat-completions provider
// with tool-calling support, pointed by default at the OpenRouter gateway.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Jacky040124/openquest/internal/llm"
)

const defaultBaseURL = "https://openrouter.ai/api"

// Provider implements llm.Provider over the chat-completions wire format.
type Provider struct {
	name    string
	client  *http.Client
	baseURL string
	apiKey  string
	referer string
	title   string
}

// Option customizes a Provider.
type Option func(*Provider)

// WithAttribution sets the HTTP-Referer and X-Title headers OpenRouter uses
// for app attribution.
func WithAttribution(referer, title string) Option {
	return func(p *Provider) {
		p.referer = referer
		p.title = title
	}
}

// NewProvider constructs a Provider with sane defaults.
func NewProvider(name, baseURL, apiKey string, timeout time.Duration, opts ...Option) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	p := &Provider{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Chat executes a non-streaming chat completion. Tool definitions in the
// request are advertised to the model; an empty tool slice sends none, which
// forces a text answer. Failures and unusable response shapes come back as
// *llm.Error.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		return llm.ChatResponse{}, llm.NewError(nil, "model is required")
	}

	body := chatRequest{
		Model:       model,
		Messages:    toWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.ChatResponse{}, llm.NewError(err, "marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return llm.ChatResponse{}, llm.NewError(err, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if p.referer != "" {
		httpReq.Header.Set("HTTP-Referer", p.referer)
	}
	if p.title != "" {
		httpReq.Header.Set("X-Title", p.title)
	}

	res, err := p.client.Do(httpReq)
	if err != nil {
		return llm.ChatResponse{}, llm.NewError(err, "send request: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return llm.ChatResponse{}, llm.NewError(nil, "status %d: %s", res.StatusCode, string(b))
	}

	var resp chatResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return llm.ChatResponse{}, llm.NewError(err, "decode response: %v", err)
	}

	return fromWireResponse(p.name, model, resp)
}

// fromWireResponse converts the wire response, treating every field as
// optional. A missing first choice or undecodable tool-call arguments is an
// *llm.Error, not a panic.
func fromWireResponse(provider, model string, resp chatResponse) (llm.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, llm.NewError(nil, "empty choices")
	}

	choice := resp.Choices[0]
	msg := llm.ChatMessage{
		Role:    llm.Role(choice.Message.Role),
		Content: choice.Message.Content,
	}
	if msg.Role == "" {
		msg.Role = llm.RoleAssistant
	}

	for i, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		var probe map[string]any
		if err := json.Unmarshal(args, &probe); err != nil {
			return llm.ChatResponse{}, llm.NewError(err, "tool call %d (%s): malformed arguments: %v", i, tc.Function.Name, err)
		}
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: llm.ToolFunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}

	return llm.ChatResponse{
		Message:      msg,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		ProviderName: provider,
		Model:        model,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
		// Arguments is a JSON-encoded string per the chat-completions format;
		// raw passthrough keeps malformed payloads detectable.
		Arguments stringOrRaw `json:"arguments"`
	} `json:"function"`
}

// stringOrRaw accepts both a JSON string containing encoded JSON (the usual
// chat-completions wire shape) and a bare JSON object (seen from some
// gateways).
type stringOrRaw json.RawMessage

func (s *stringOrRaw) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		*s = stringOrRaw(inner)
		return nil
	}
	*s = stringOrRaw(data)
	return nil
}

type chatResponse struct {
	Choices []struct {
		Index        int          `json:"index"`
		FinishReason string       `json:"finish_reason"`
		Message      struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func toWireMessages(msgs []llm.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			var wc wireToolCall
			wc.ID = tc.ID
			wc.Type = tc.Type
			wc.Function.Name = tc.Function.Name
			wc.Function.Arguments = stringOrRaw(tc.Function.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		out = append(out, wm)
	}
	return out
}

// MarshalJSON re-encodes tool-call arguments as a JSON string, matching the
// chat-completions request format.
func (s stringOrRaw) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return json.Marshal("{}")
	}
	return json.Marshal(string(s))
}

