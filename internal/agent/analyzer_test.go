package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jacky040124/openquest/internal/config"
	"github.com/Jacky040124/openquest/internal/llm"
	"github.com/Jacky040124/openquest/internal/llm/mock"
	"github.com/Jacky040124/openquest/internal/sandbox"
)

func newTestService(t *testing.T, rt *fakeRuntime, provider llm.Provider, maxTurns int) *Service {
	t.Helper()
	registry := llm.NewRegistry()
	registry.RegisterProvider("mock", provider)
	registry.RegisterModel("analyst", llm.ModelRoute{Provider: "mock", Model: "mock-model"}, true)

	gw := sandbox.NewGateway(rt, time.Minute, nil)
	exec := NewExecutor(gw, 2000, nil)

	cfg := config.AgentConfig{MaxTurns: maxTurns, MaxTokensPerTool: 2000, Temperature: 0.7, MaxTokens: 4096}
	return NewService(registry, gw, exec, nil, cfg, config.GitHubConfig{}, nil, nil)
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out waiting for event stream to close")
		}
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

const solutionAnswer = "Analysis complete.\n```json\n{\"summary\": \"null deref in parser\", \"commit_message\": \"fix: guard nil token\"}\n```"

func TestAnalyzeSuccessfulRun(t *testing.T) {
	rt := newFakeRuntime()
	rt.files["/repo/main.go"] = "package main\n"

	provider := &mock.Provider{
		Responses: []llm.ChatResponse{
			{
				Message: llm.ChatMessage{
					Role: llm.RoleAssistant,
					ToolCalls: []llm.ToolCall{{
						ID:   "call-1",
						Type: "function",
						Function: llm.ToolFunctionCall{
							Name:      ToolReadFile,
							Arguments: json.RawMessage(`{"path":"main.go"}`),
						},
					}},
				},
				FinishReason: llm.FinishToolCalls,
			},
			{
				Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: solutionAnswer},
				FinishReason: llm.FinishStop,
			},
		},
	}

	svc := newTestService(t, rt, provider, 10)
	events := collectEvents(t, svc.Analyze(context.Background(), AnalyzeRequest{
		SessionID:   "sess-1",
		RepoURL:     "https://github.com/octo/demo",
		IssueNumber: 7,
		IssueTitle:  "parser crash",
		IssueBody:   "panics on empty input",
	}))

	require.Equal(t, []EventType{
		EventStatus, EventStatus, EventStatus, // cloning x2, analyzing
		EventTool, EventTool, // start, result
		EventThinking,
		EventStatus, // proposing
		EventSolution,
		EventStatus, // done
		EventDone,
	}, eventTypes(events))

	require.Equal(t, StepCloning, events[0].Step)
	require.Equal(t, StepAnalyzing, events[2].Step)
	require.Equal(t, ToolReadFile, events[3].ToolName)
	require.Equal(t, "package main\n", events[4].ToolResult)

	solution := events[7].Solution
	require.NotNil(t, solution)
	require.Equal(t, "null deref in parser", solution.Summary)
	require.Equal(t, 7, solution.IssueNumber)
	require.Equal(t, "sess-1", events[7].SessionID)

	// The second request must carry the tool exchange in its history.
	require.Len(t, provider.Calls, 2)
	second := provider.Calls[1].Messages
	last := second[len(second)-1]
	require.Equal(t, llm.RoleTool, last.Role)
	require.Equal(t, "call-1", last.ToolCallID)
	require.Equal(t, "package main\n", last.Content)

	require.Equal(t, 1, rt.destroyed)
}

func TestAnalyzeFinalTurnForcesConclusion(t *testing.T) {
	rt := newFakeRuntime()

	provider := &mock.Provider{
		ChatFn: func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
			require.Empty(t, req.Tools)
			lastMsg := req.Messages[len(req.Messages)-1]
			require.Equal(t, llm.RoleUser, lastMsg.Role)
			require.Contains(t, lastMsg.Content, "maximum number of exploration turns")
			return llm.ChatResponse{
				Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: "no JSON, just prose"},
				FinishReason: llm.FinishLength,
			}, nil
		},
	}

	svc := newTestService(t, rt, provider, 1)
	events := collectEvents(t, svc.Analyze(context.Background(), AnalyzeRequest{
		RepoURL:     "https://github.com/octo/demo",
		IssueNumber: 1,
	}))

	require.Len(t, provider.Calls, 1)

	var solution *Solution
	for _, ev := range events {
		if ev.Type == EventSolution {
			solution = ev.Solution
		}
	}
	require.NotNil(t, solution)
	require.Equal(t, "See raw analysis below", solution.Summary)
	require.Equal(t, "no JSON, just prose", solution.RootCauseAnalysis)

	require.Equal(t, EventDone, events[len(events)-1].Type)
	require.Equal(t, 1, rt.destroyed)
}

func TestAnalyzeToolFailureSurfacesToModel(t *testing.T) {
	rt := newFakeRuntime()

	provider := &mock.Provider{
		Responses: []llm.ChatResponse{
			{
				Message: llm.ChatMessage{
					Role: llm.RoleAssistant,
					ToolCalls: []llm.ToolCall{{
						ID:       "call-1",
						Function: llm.ToolFunctionCall{Name: ToolReadFile, Arguments: json.RawMessage(`{"path":"nope.go"}`)},
					}},
				},
				FinishReason: llm.FinishToolCalls,
			},
			{
				Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: solutionAnswer},
				FinishReason: llm.FinishStop,
			},
		},
	}

	svc := newTestService(t, rt, provider, 10)
	events := collectEvents(t, svc.Analyze(context.Background(), AnalyzeRequest{
		RepoURL:     "https://github.com/octo/demo",
		IssueNumber: 1,
	}))

	for _, ev := range events {
		require.NotEqual(t, EventError, ev.Type)
	}

	second := provider.Calls[1].Messages
	last := second[len(second)-1]
	require.Equal(t, llm.RoleTool, last.Role)
	require.True(t, strings.HasPrefix(last.Content, "Error: "))
}

func TestAnalyzeLLMFailure(t *testing.T) {
	rt := newFakeRuntime()

	provider := &mock.Provider{
		ChatFn: func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
			return llm.ChatResponse{}, errors.New("upstream 502")
		},
	}

	svc := newTestService(t, rt, provider, 10)
	events := collectEvents(t, svc.Analyze(context.Background(), AnalyzeRequest{
		RepoURL:     "https://github.com/octo/demo",
		IssueNumber: 1,
	}))

	require.Equal(t, EventError, events[len(events)-2].Type)
	require.Contains(t, events[len(events)-2].Message, "LLM API call failed")
	require.Equal(t, EventDone, events[len(events)-1].Type)
	require.Equal(t, 1, rt.destroyed)
}

func TestAnalyzeCloneFailureStillDestroysSandbox(t *testing.T) {
	rt := newFakeRuntime()
	rt.stub("git clone", sandbox.ExecResult{Stderr: "fatal: repository not found", ExitCode: 128}, nil)

	provider := &mock.Provider{}
	svc := newTestService(t, rt, provider, 10)
	events := collectEvents(t, svc.Analyze(context.Background(), AnalyzeRequest{
		RepoURL:     "https://github.com/octo/missing",
		IssueNumber: 1,
	}))

	require.Empty(t, provider.Calls)
	require.Equal(t, EventError, events[len(events)-2].Type)
	require.Contains(t, events[len(events)-2].Message, "failed to clone")
	require.Equal(t, EventDone, events[len(events)-1].Type)
	require.Equal(t, 1, rt.destroyed)
}
