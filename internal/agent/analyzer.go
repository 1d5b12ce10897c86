package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Jacky040124/openquest/internal/config"
	"github.com/Jacky040124/openquest/internal/llm"
	"github.com/Jacky040124/openquest/internal/observability"
	"github.com/Jacky040124/openquest/internal/sandbox"
)

// streamResultCap bounds tool results on the event stream; the full result
// still goes back to the model through the message history.
const streamResultCap = 500

// teardownTimeout bounds sandbox destruction after the run body returns.
const teardownTimeout = 30 * time.Second

// Service runs analysis and implementation passes over sandboxed repository
// clones, streaming typed events to the caller. Each invocation is an
// isolated unit of work with its own sandbox and message history.
type Service struct {
	registry *llm.Registry
	gateway  *sandbox.Gateway
	executor *Executor
	hosting  HostingClientFactory
	cfg      config.AgentConfig
	git      config.GitHubConfig
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// HostingClient is the narrow git-hosting surface the implementation phase
// needs.
type HostingClient interface {
	Username(ctx context.Context) (string, error)
	RepoExists(ctx context.Context, owner, repo string) (bool, error)
}

// HostingClientFactory builds a client bound to a per-run credential.
type HostingClientFactory func(token string) HostingClient

// NewService wires the agent service.
func NewService(registry *llm.Registry, gw *sandbox.Gateway, exec *Executor, hosting HostingClientFactory,
	agentCfg config.AgentConfig, gitCfg config.GitHubConfig, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		gateway:  gw,
		executor: exec,
		hosting:  hosting,
		cfg:      agentCfg,
		git:      gitCfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// AnalyzeRequest describes one issue-analysis run.
type AnalyzeRequest struct {
	SessionID   string
	RepoURL     string
	IssueNumber int
	IssueTitle  string
	IssueBody   string
	Model       string // logical model name; empty uses the default route
}

// Analyze runs the turn-based analysis loop and streams events. The stream
// always ends with exactly one done event, and the sandbox is torn down on
// every exit path.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		start := time.Now()

		var session *sandbox.Session
		err := s.analyze(ctx, req, &session, out)
		if err != nil {
			s.logger.Error("analysis failed", zap.String("repo_url", req.RepoURL), zap.Error(err))
			out <- ErrorEvent(err.Error())
		}
		s.teardown(session)
		s.metrics.RecordRun("analyze", outcomeOf(err), time.Since(start))
		out <- DoneEvent()
	}()
	return out
}

func (s *Service) analyze(ctx context.Context, req AnalyzeRequest, session **sandbox.Session, out chan<- Event) error {
	s.logger.Info("starting issue analysis",
		zap.String("repo_url", req.RepoURL),
		zap.Int("issue_number", req.IssueNumber),
		zap.String("issue_title", req.IssueTitle))

	out <- StatusEvent(StepCloning, "Starting sandbox and cloning "+req.RepoURL+"...")

	sess, err := s.gateway.CreateAndClone(ctx, req.RepoURL)
	*session = sess
	if sess != nil {
		s.metrics.SandboxCreated()
	}
	if err != nil {
		return err
	}

	out <- StatusEvent(StepCloning, "Repository cloned successfully")
	out <- StatusEvent(StepAnalyzing, "Analyzing issue...")

	provider, route, err := s.registry.Resolve(req.Model)
	if err != nil {
		return err
	}

	messages := []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildIssuePrompt(req.RepoURL, req.IssueNumber, req.IssueTitle, req.IssueBody)},
	}

	maxTurns := s.cfg.MaxTurns
	s.logger.Info("starting agent loop", zap.Int("max_turns", maxTurns))

	for turn := 0; turn < maxTurns; turn++ {
		s.logger.Info("agent turn", zap.Int("turn", turn+1), zap.Int("max_turns", maxTurns))
		isFinalTurn := turn == maxTurns-1

		current := make([]llm.ChatMessage, len(messages), len(messages)+1)
		copy(current, messages)

		// The final allotted turn offers no tools and demands a conclusion,
		// guaranteeing the loop terminates with a usable answer.
		var turnTools []llm.Tool
		if isFinalTurn {
			current = append(current, llm.ChatMessage{Role: llm.RoleUser, Content: finalTurnInstruction})
			s.logger.Info("final turn, forcing model to conclude")
		} else {
			turnTools = Tools()
		}

		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Model:       route.Model,
			Messages:    current,
			Tools:       turnTools,
			Temperature: pickTemperature(s.cfg.Temperature, route.Temperature),
			MaxTokens:   pickMaxTokens(s.cfg.MaxTokens, route.MaxTokens),
		})
		if err != nil {
			return llm.NewError(err, "LLM API call failed: %v", err)
		}
		s.metrics.RecordTurn()

		text := resp.Message.Content
		if text != "" {
			out <- ThinkingEvent(text)
		}

		s.logger.Info("turn completed", zap.String("finish_reason", resp.FinishReason), zap.Int("tool_calls", len(resp.Message.ToolCalls)))

		if resp.FinishReason == llm.FinishStop || isFinalTurn {
			out <- StatusEvent(StepProposing, "Preparing solution...")

			solution := ParseSolution(text, s.logger)
			if solution.IssueNumber == 0 {
				solution.IssueNumber = req.IssueNumber
			}
			out <- SolutionEvent(req.SessionID, solution)
			out <- StatusEvent(StepDone, "Analysis complete")
			s.logger.Info("analysis complete")
			return nil
		}

		toolCalls := resp.Message.ToolCalls
		if len(toolCalls) == 0 {
			// The model produced only prose without stopping; treat the turn
			// as a no-op and keep going.
			s.logger.Warn("no tool calls and not stopped, continuing")
			continue
		}

		messages = append(messages, resp.Message)

		for i, tc := range toolCalls {
			name := tc.Function.Name
			s.logger.Info("executing tool", zap.Int("index", i+1), zap.Int("total", len(toolCalls)), zap.String("tool", name))
			out <- ToolStartEvent(name, tc.Function.Arguments)

			result, execErr := s.executor.Execute(ctx, sess, name, tc.Function.Arguments)
			if execErr != nil {
				// Surfaced to the model as a tool result so it can adjust
				// course; a failed search must not abort the analysis.
				result = "Error: " + execErr.Error()
				s.metrics.RecordTool(name, "error")
			} else {
				s.metrics.RecordTool(name, "ok")
			}

			out <- ToolResultEvent(name, tc.Function.Arguments, capString(result, streamResultCap))

			messages = append(messages, llm.ChatMessage{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Content:    result,
			})
		}
	}

	// Unreachable: the final-turn branch above always returns.
	s.logger.Warn("agent loop ended without conclusion")
	return nil
}

// teardown destroys the session unconditionally, detached from the caller's
// context so cancellation cannot leak a sandbox.
func (s *Service) teardown(session *sandbox.Session) {
	if session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	s.gateway.Destroy(ctx, session)
	s.metrics.SandboxDestroyed()
}

func capString(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n] + "..."
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func pickTemperature(agentTemp, routeTemp float64) float64 {
	if agentTemp > 0 {
		return agentTemp
	}
	if routeTemp > 0 {
		return routeTemp
	}
	return 0.7
}

func pickMaxTokens(agentMax, routeMax int) int {
	if agentMax > 0 {
		return agentMax
	}
	if routeMax > 0 {
		return routeMax
	}
	return 0
}
