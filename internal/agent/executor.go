package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jacky040124/openquest/internal/sandbox"
)

const (
	listTimeout    = 30 * time.Second
	searchTimeout  = 60 * time.Second
	commandTimeout = 120 * time.Second
	treeTimeout    = 30 * time.Second
)

// Executor maps a named tool call to a concrete sandbox operation. Tool
// output is truncated to a bounded size before it re-enters the prompt.
type Executor struct {
	gateway          *sandbox.Gateway
	maxTokensPerTool int
	logger           *zap.Logger
}

// NewExecutor builds an Executor. maxTokensPerTool bounds a single tool's
// output using the 1 token ~ 4 chars heuristic.
func NewExecutor(gw *sandbox.Gateway, maxTokensPerTool int, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{gateway: gw, maxTokensPerTool: maxTokensPerTool, logger: logger}
}

// Execute runs one tool call inside the session. Failures come back as
// *ToolExecutionError so the loop can surface them to the model instead of
// aborting the run.
func (e *Executor) Execute(ctx context.Context, session *sandbox.Session, name string, args json.RawMessage) (string, error) {
	if session == nil {
		return "", &ToolExecutionError{Tool: name, Detail: "sandbox not initialized"}
	}

	start := time.Now()

	var (
		result string
		err    error
	)
	switch name {
	case ToolReadFile:
		result, err = e.readFile(ctx, session, args)
	case ToolListFiles:
		result, err = e.listFiles(ctx, session, args)
	case ToolSearchCode:
		result, err = e.searchCode(ctx, session, args)
	case ToolRunCommand:
		result, err = e.runCommand(ctx, session, args)
	case ToolGetFileTree:
		result, err = e.fileTree(ctx, session, args)
	case ToolWriteFile:
		result, err = e.writeFile(ctx, session, args)
	default:
		return "", &ToolExecutionError{Tool: name, Detail: fmt.Sprintf("unknown tool: %s", name)}
	}
	if err != nil {
		e.logger.Error("tool execution failed", zap.String("tool", name), zap.Error(err))
		var te *ToolExecutionError
		if errors.As(err, &te) {
			return "", te
		}
		return "", &ToolExecutionError{Tool: name, Detail: err.Error()}
	}

	result = e.truncate(result)

	e.logger.Info("tool executed",
		zap.String("tool", name),
		zap.Duration("duration", time.Since(start)),
		zap.Int("output_chars", len(result)))

	return result, nil
}

func (e *Executor) readFile(ctx context.Context, s *sandbox.Session, args json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	return e.gateway.ReadFile(ctx, s, s.RepoPath+"/"+in.Path)
}

func (e *Executor) listFiles(ctx context.Context, s *sandbox.Session, args json.RawMessage) (string, error) {
	in := struct {
		Path string `json:"path"`
	}{Path: "."}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	res, err := e.gateway.Run(ctx, s, fmt.Sprintf("ls -la %s/%s", s.RepoPath, in.Path), listTimeout)
	if err != nil {
		return "", err
	}
	if res.Stdout != "" {
		return res.Stdout, nil
	}
	return res.Stderr, nil
}

var bracePattern = regexp.MustCompile(`(.+)\{(.+)\}(.*)$`)

func (e *Executor) searchCode(ctx context.Context, s *sandbox.Session, args json.RawMessage) (string, error) {
	var in struct {
		Pattern     string `json:"pattern"`
		FilePattern string `json:"file_pattern"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	includeFlags := buildIncludeFlags(in.FilePattern)
	cmd := fmt.Sprintf("cd %s && grep -rn %s '%s' . 2>/dev/null | head -100", s.RepoPath, includeFlags, in.Pattern)
	res, err := e.gateway.Run(ctx, s, cmd, searchTimeout)
	if err != nil {
		return "", err
	}

	switch {
	case strings.TrimSpace(res.Stdout) != "":
		return res.Stdout, nil
	case res.ExitCode == 1:
		// grep exits 1 when nothing matched; that is an answer, not an error.
		return "No matches found", nil
	case res.Stderr != "":
		return res.Stderr, nil
	default:
		return "No matches found", nil
	}
}

// buildIncludeFlags turns a glob into grep --include flags, expanding brace
// syntax like "*.{ts,tsx}" manually since the patterns never reach a shell
// that would expand them.
func buildIncludeFlags(filePattern string) string {
	if filePattern == "" {
		return ""
	}
	if strings.Contains(filePattern, "{") && strings.Contains(filePattern, "}") {
		if m := bracePattern.FindStringSubmatch(filePattern); m != nil {
			prefix, suffix := m[1], m[3]
			options := strings.Split(m[2], ",")
			flags := make([]string, 0, len(options))
			for _, opt := range options {
				flags = append(flags, fmt.Sprintf("--include='%s%s%s'", prefix, opt, suffix))
			}
			return strings.Join(flags, " ")
		}
	}
	return fmt.Sprintf("--include='%s'", filePattern)
}

func (e *Executor) runCommand(ctx context.Context, s *sandbox.Session, args json.RawMessage) (string, error) {
	var in struct {
		Command string `json:"command"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	res, err := e.gateway.Run(ctx, s, fmt.Sprintf("cd %s && %s", s.RepoPath, in.Command), commandTimeout)
	if err != nil {
		return "", err
	}

	// Nonzero exit is a normal result the model should see, never an error.
	var b strings.Builder
	fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
	if res.Stdout != "" {
		fmt.Fprintf(&b, "Stdout:\n%s\n", res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprintf(&b, "Stderr:\n%s", res.Stderr)
	}
	return b.String(), nil
}

func (e *Executor) fileTree(ctx context.Context, s *sandbox.Session, args json.RawMessage) (string, error) {
	in := struct {
		MaxDepth int `json:"max_depth"`
	}{MaxDepth: 3}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	cmd := fmt.Sprintf(`cd %s && find . -maxdepth %d -type f -not -path '*/\.git/*' | head -200 | sort`, s.RepoPath, in.MaxDepth)
	res, err := e.gateway.Run(ctx, s, cmd, treeTimeout)
	if err != nil {
		return "", err
	}
	if res.Stdout == "" {
		return "No files found", nil
	}
	return res.Stdout, nil
}

func (e *Executor) writeFile(ctx context.Context, s *sandbox.Session, args json.RawMessage) (string, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if err := e.gateway.WriteFile(ctx, s, s.RepoPath+"/"+in.Path, in.Content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully written to %s", in.Path), nil
}

// truncate keeps the head and tail of the output and splices in a marker
// noting the original length.
func (e *Executor) truncate(text string) string {
	maxChars := e.maxTokensPerTool * 4
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	half := maxChars / 2
	marker := fmt.Sprintf("\n\n... [TRUNCATED - original length: %d chars] ...\n\n", len(text))
	return text[:half] + marker + text[len(text)-half:]
}

func decodeArgs(args json.RawMessage, dst any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

