package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jacky040124/openquest/internal/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProvider("openrouter", srv.URL, "test-key", time.Minute,
		WithAttribution("https://openquest.dev", "OpenQuest"))
}

func TestChatParsesTextResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "https://openquest.dev", r.Header.Get("HTTP-Referer"))
		require.Equal(t, "OpenQuest", r.Header.Get("X-Title"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "test/model", body["model"])
		require.NotContains(t, body, "tools")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"the answer"}}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
		}`))
	})

	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "test/model",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "the answer", resp.Message.Content)
	require.Equal(t, llm.FinishStop, resp.FinishReason)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChatParsesToolCallsWithStringArguments(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","tool_calls":[
				{"id":"c1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"main.go\"}"}},
				{"id":"c2","type":"function","function":{"name":"list_files","arguments":{"path":"src"}}}
			]}}]
		}`))
	})

	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "m",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "go"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 2)
	require.Equal(t, "read_file", resp.Message.ToolCalls[0].Function.Name)
	require.JSONEq(t, `{"path":"main.go"}`, string(resp.Message.ToolCalls[0].Function.Arguments))
	require.JSONEq(t, `{"path":"src"}`, string(resp.Message.ToolCalls[1].Function.Arguments))
}

func TestChatMalformedToolArguments(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","tool_calls":[
				{"id":"c1","type":"function","function":{"name":"read_file","arguments":"not json"}}
			]}}]
		}`))
	})

	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "m",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "go"}},
	})
	require.Error(t, err)
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	require.Contains(t, err.Error(), "malformed arguments")
}

func TestChatEmptyChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "m",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "go"}},
	})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	require.Contains(t, err.Error(), "empty choices")
}

func TestChatHTTPError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})

	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "m",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "go"}},
	})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	require.Contains(t, err.Error(), "429")
}

func TestChatToolsAdvertised(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tools []struct {
				Type     string `json:"type"`
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Tools, 1)
		require.Equal(t, "function", body.Tools[0].Type)
		require.Equal(t, "search_code", body.Tools[0].Function.Name)

		w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`))
	})

	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "m",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "go"}},
		Tools: []llm.Tool{{
			Name:        "search_code",
			Description: "search",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)
}

func TestChatRequiresModel(t *testing.T) {
	p := NewProvider("openrouter", "http://unused", "k", time.Minute)
	_, err := p.Chat(context.Background(), llm.ChatRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model is required")
}
