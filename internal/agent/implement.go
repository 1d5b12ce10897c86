package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	githubapi "github.com/Jacky040124/openquest/internal/github"
	"github.com/Jacky040124/openquest/internal/logging"
	"github.com/Jacky040124/openquest/internal/sandbox"
)

const (
	gitCmdTimeout  = 60 * time.Second
	gitPushTimeout = 120 * time.Second

	// resultDiffCap bounds the diff carried on the final result event; the
	// dedicated diff event already streamed the full text.
	resultDiffCap = 5000
)

// ImplementRequest describes one push run for a previously produced solution.
type ImplementRequest struct {
	Solution      *Solution
	RepoURL       string // upstream repository
	BranchName    string
	GitHubToken   string
	CommitMessage string
}

// Implement applies a solution's documentation artifacts to the user's fork
// and pushes them on a new branch. Unlike analysis there is no model in the
// loop; the sequence is deterministic. The stream always ends with exactly
// one done event, and any sandbox created is torn down on every exit path.
func (s *Service) Implement(ctx context.Context, req ImplementRequest) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		start := time.Now()

		var session *sandbox.Session
		err := s.implement(ctx, req, &session, out)
		if err != nil {
			s.logger.Error("implementation failed", zap.String("branch", req.BranchName), zap.Error(err))
			out <- ErrorEvent(err.Error())
		}
		s.teardown(session)
		s.metrics.RecordRun("implement", outcomeOf(err), time.Since(start))
		out <- DoneEvent()
	}()
	return out
}

func (s *Service) implement(ctx context.Context, req ImplementRequest, session **sandbox.Session, out chan<- Event) error {
	sol := req.Solution
	if sol == nil {
		return fmt.Errorf("no solution to implement")
	}
	if req.BranchName == "" {
		return fmt.Errorf("branch name is required")
	}
	if req.GitHubToken == "" {
		return fmt.Errorf("GitHub token is required")
	}

	upstreamOwner, repoName, err := githubapi.ParseRepoURL(req.RepoURL)
	if err != nil {
		return err
	}

	hosting := s.hosting(req.GitHubToken)

	// Both preconditions are checked before any sandbox is acquired so a
	// missing fork costs nothing but two API calls.
	username, err := hosting.Username(ctx)
	if err != nil || username == "" {
		return fmt.Errorf("failed to get GitHub username from token; check that the token is valid")
	}
	s.logger.Info("implementing as user", zap.String("username", username), zap.String("branch", req.BranchName))

	exists, err := hosting.RepoExists(ctx, username, repoName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("fork not found: %s/%s. Please fork %s/%s first at https://github.com/%s/%s/fork",
			username, repoName, upstreamOwner, repoName, upstreamOwner, repoName)
	}

	forkURL := githubapi.ForkCloneURL(req.GitHubToken, username, repoName)

	out <- StatusEvent(StepCloning, fmt.Sprintf("Creating sandbox and cloning %s/%s...", username, repoName))

	sess, _, err := s.gateway.CreateAndCloneFork(ctx, forkURL, req.RepoURL)
	*session = sess
	if sess != nil {
		s.metrics.SandboxCreated()
	}
	if err != nil {
		return err
	}
	repo := sess.RepoPath

	out <- StatusEvent(StepCloning, "Repository cloned and synced with upstream")
	out <- StatusEvent(StepImplementing, fmt.Sprintf("Creating branch %s...", req.BranchName))

	if res, err := s.gateway.Run(ctx, sess, fmt.Sprintf("cd %s && git checkout -b %s", repo, req.BranchName), gitCmdTimeout); err != nil || res.ExitCode != 0 {
		return fmt.Errorf("failed to create branch %s: %s", req.BranchName, runFailureDetail(res, err))
	}

	out <- StatusEvent(StepImplementing, "Generating ANALYSIS.md...")

	docTitle := firstNonEmpty(req.CommitMessage, sol.CommitMessage, "Issue Analysis")
	markdown := GenerateAnalysisMarkdown(sol, sol.IssueNumber, docTitle)
	if err := s.gateway.WriteFile(ctx, sess, repo+"/ANALYSIS.md", markdown); err != nil {
		return fmt.Errorf("failed to write ANALYSIS.md: %v", err)
	}

	s.addComments(ctx, sess, sol.CommentsToAdd, out)

	// Commit identity is the service bot, not the token holder.
	if res, err := s.gateway.Run(ctx, sess, fmt.Sprintf("cd %s && git config user.email %q && git config user.name %q", repo, s.git.BotEmail, s.git.BotName), gitCmdTimeout); err != nil || res.ExitCode != 0 {
		s.logger.Warn("failed to set git identity", zap.String("stderr", res.Stderr), zap.Error(err))
	}

	out <- StatusEvent(StepImplementing, "Staging changes...")

	if res, err := s.gateway.Run(ctx, sess, fmt.Sprintf("cd %s && git add .", repo), gitCmdTimeout); err != nil || res.ExitCode != 0 {
		return fmt.Errorf("failed to stage changes: %s", runFailureDetail(res, err))
	}

	// The staged-diff probe is advisory: only a successful probe reporting
	// nothing staged terminates the run.
	if res, err := s.gateway.Run(ctx, sess, fmt.Sprintf("cd %s && git diff --cached --stat", repo), gitCmdTimeout); err != nil || res.ExitCode != 0 {
		s.logger.Warn("could not check staged changes", zap.String("stderr", res.Stderr), zap.Error(err))
	} else if strings.TrimSpace(res.Stdout) == "" {
		return fmt.Errorf("no changes to commit. The patches may not have modified any files")
	}

	out <- StatusEvent(StepImplementing, "Committing changes...")

	commitMsg := firstNonEmpty(req.CommitMessage, sol.CommitMessage, "Fix issue")
	if res, err := s.gateway.Run(ctx, sess, fmt.Sprintf("cd %s && git commit -m '%s'", repo, escapeSingleQuotes(commitMsg)), gitCmdTimeout); err != nil || res.ExitCode != 0 {
		return fmt.Errorf("failed to commit: %s", runFailureDetail(res, err))
	}

	// Best-effort; a missing parent commit (fresh repo) must not fail the run.
	diff := ""
	if res, err := s.gateway.Run(ctx, sess, fmt.Sprintf("cd %s && git diff HEAD~1", repo), gitCmdTimeout); err == nil && res.ExitCode == 0 {
		diff = res.Stdout
	} else {
		s.logger.Warn("failed to collect diff", zap.Error(err))
	}
	out <- DiffEvent(diff)

	out <- StatusEvent(StepPushing, fmt.Sprintf("Pushing to %s/%s:%s...", username, repoName, req.BranchName))

	if res, err := s.gateway.Run(ctx, sess, fmt.Sprintf("cd %s && git push -u origin %s 2>&1", repo, req.BranchName), gitPushTimeout); err != nil || res.ExitCode != 0 {
		return fmt.Errorf("failed to push. Make sure you have forked %s/%s first. Error: %s",
			upstreamOwner, repoName, logging.MaskURL(runFailureDetail(res, err)))
	}

	branchURL := githubapi.BranchURL(username, repoName, req.BranchName)
	prURL := githubapi.CompareURL(upstreamOwner, repoName, username, req.BranchName)

	out <- ResultEvent(req.BranchName, branchURL, prURL, capString(diff, resultDiffCap))
	out <- StatusEvent(StepDone, fmt.Sprintf("Successfully pushed to %s/%s:%s", username, repoName, req.BranchName))

	s.logger.Info("implementation complete",
		zap.String("branch", req.BranchName),
		zap.String("branch_url", branchURL))
	return nil
}

// addComments inserts explanatory comments into source files. Each entry is
// isolated: a bad path or line number skips that entry, never the run.
func (s *Service) addComments(ctx context.Context, sess *sandbox.Session, comments []CodeComment, out chan<- Event) {
	for i, c := range comments {
		if c.File == "" || c.Comment == "" || c.LineNumber == 0 {
			continue
		}
		out <- StatusEvent(StepImplementing, fmt.Sprintf("Adding comment to %s (%d/%d)...", c.File, i+1, len(comments)))

		path := sess.RepoPath + "/" + strings.TrimPrefix(c.File, "/")
		content, err := s.gateway.ReadFile(ctx, sess, path)
		if err != nil {
			s.logger.Warn("skipping comment, cannot read file", zap.String("file", c.File), zap.Error(err))
			continue
		}

		updated, ok := insertComment(content, c.LineNumber, c.Comment)
		if !ok {
			s.logger.Warn("skipping comment, line out of range",
				zap.String("file", c.File), zap.Int("line", c.LineNumber))
			continue
		}

		if err := s.gateway.WriteFile(ctx, sess, path, updated); err != nil {
			s.logger.Warn("skipping comment, cannot write file", zap.String("file", c.File), zap.Error(err))
		}
	}
}

// insertComment places comment text above the 1-indexed lineNumber, matching
// the indentation of the line it lands on. The comment text already carries
// its own comment syntax; only indentation is added here. Reports false when
// the line is out of range.
func insertComment(content string, lineNumber int, comment string) (string, bool) {
	lines := strings.SplitAfter(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	idx := lineNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(lines) {
		return content, false
	}

	indent := leadingWhitespace(lines[idx])
	var block strings.Builder
	for _, cl := range strings.Split(comment, "\n") {
		block.WriteString(indent)
		block.WriteString(cl)
		block.WriteString("\n")
	}

	var sb strings.Builder
	for i, line := range lines {
		if i == idx {
			sb.WriteString(block.String())
		}
		sb.WriteString(line)
	}
	return sb.String(), true
}

func leadingWhitespace(line string) string {
	for i, r := range line {
		if r != ' ' && r != '\t' {
			return line[:i]
		}
	}
	return line
}

// escapeSingleQuotes makes a string safe inside single-quoted shell text.
func escapeSingleQuotes(v string) string {
	return strings.ReplaceAll(v, "'", `'\''`)
}

// runFailureDetail summarizes a failed sandbox command for error messages.
func runFailureDetail(res sandbox.ExecResult, err error) string {
	if err != nil {
		return err.Error()
	}
	out := strings.TrimSpace(res.Stderr)
	if out == "" {
		out = strings.TrimSpace(res.Stdout)
	}
	if out == "" {
		return fmt.Sprintf("exit code %d", res.ExitCode)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
