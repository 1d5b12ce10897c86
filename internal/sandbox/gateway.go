package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jacky040124/openquest/internal/logging"
)

const (
	cloneTimeout   = 120 * time.Second
	fetchTimeout   = 120 * time.Second
	gitMetaTimeout = 30 * time.Second
	probeTimeout   = 10 * time.Second
)

// Gateway acquires one sandbox per run, places a cloned repository in it, and
// releases it unconditionally at run end.
type Gateway struct {
	runtime Runtime
	timeout time.Duration
	logger  *zap.Logger
}

// NewGateway builds a Gateway over the given runtime. timeout bounds sandbox
// acquisition.
func NewGateway(rt Runtime, timeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{runtime: rt, timeout: timeout, logger: logger}
}

// CreateAndClone acquires a sandbox and shallow-clones repoURL into it at
// depth 1. The returned session is non-nil whenever acquisition succeeded,
// including when the clone itself failed, so callers can always defer Destroy.
func (g *Gateway) CreateAndClone(ctx context.Context, repoURL string) (*Session, error) {
	if g.runtime == nil {
		return nil, &Error{Detail: "sandbox runtime is not configured"}
	}

	g.logger.Info("creating sandbox", zap.Duration("timeout", g.timeout))
	session, err := g.runtime.Create(ctx, g.timeout)
	if err != nil {
		return nil, &Error{Detail: fmt.Sprintf("failed to create sandbox: %v", err), Cause: err}
	}
	g.logger.Info("sandbox created", zap.String("session_id", session.ID))

	safeURL := logging.MaskURL(repoURL)
	g.logger.Info("cloning repository (shallow)", zap.String("repo_url", safeURL))

	res, err := g.runtime.Run(ctx, session, fmt.Sprintf("git clone --depth 1 %s %s 2>&1", repoURL, session.RepoPath), cloneTimeout)
	if err != nil {
		return session, &CloneError{RepoURL: safeURL, Detail: fmt.Sprintf("sandbox command failed: %v", err)}
	}
	if res.ExitCode != 0 {
		return session, &CloneError{RepoURL: safeURL, Detail: cloneFailureDetail(repoURL, res)}
	}

	g.logger.Info("repository cloned", zap.String("session_id", session.ID))
	return session, nil
}

// CreateAndCloneFork acquires a sandbox, clones the user's fork (URL carries
// the push credential), and synchronizes it against the upstream repository:
// add upstream remote, fetch, probe upstream/main then upstream/master, and
// reset the working branch onto the upstream default. Clone failure is fatal;
// every other git sub-step is advisory and only logged, so a stale or
// partially synced fork still produces a usable working tree. Returns the
// upstream default branch name.
func (g *Gateway) CreateAndCloneFork(ctx context.Context, forkURL, upstreamURL string) (*Session, string, error) {
	session, err := g.CreateAndClone(ctx, forkURL)
	if err != nil {
		return session, "", err
	}

	repo := session.RepoPath

	if res, err := g.runtime.Run(ctx, session, fmt.Sprintf("cd %s && git remote add upstream %s", repo, upstreamURL), gitMetaTimeout); err != nil || res.ExitCode != 0 {
		g.logger.Warn("failed to add upstream remote",
			zap.String("upstream_url", logging.MaskURL(upstreamURL)),
			zap.String("stderr", res.Stderr), zap.Error(err))
	}

	if res, err := g.runtime.Run(ctx, session, fmt.Sprintf("cd %s && git fetch upstream", repo), fetchTimeout); err != nil || res.ExitCode != 0 {
		g.logger.Warn("failed to fetch upstream", zap.String("stderr", res.Stderr), zap.Error(err))
	}

	// main takes priority; master is only a fallback when main is absent.
	defaultBranch := "main"
	if !g.branchExists(ctx, session, "upstream/main") {
		if g.branchExists(ctx, session, "upstream/master") {
			defaultBranch = "master"
		} else {
			g.logger.Warn("could not find upstream/main or upstream/master, using main")
		}
	}

	if res, err := g.runtime.Run(ctx, session, fmt.Sprintf("cd %s && git checkout -B main upstream/%s", repo, defaultBranch), gitMetaTimeout); err != nil || res.ExitCode != 0 {
		g.logger.Warn("failed to reset onto upstream, continuing with current state",
			zap.String("default_branch", defaultBranch),
			zap.String("stderr", res.Stderr), zap.Error(err))
	}

	g.logger.Info("fork cloned and synced with upstream", zap.String("default_branch", defaultBranch))
	return session, defaultBranch, nil
}

func (g *Gateway) branchExists(ctx context.Context, s *Session, ref string) bool {
	res, err := g.runtime.Run(ctx, s, fmt.Sprintf("cd %s && git rev-parse --verify %s", s.RepoPath, ref), probeTimeout)
	return err == nil && res.ExitCode == 0
}

// Run proxies a command into the owned session.
func (g *Gateway) Run(ctx context.Context, s *Session, command string, timeout time.Duration) (ExecResult, error) {
	return g.runtime.Run(ctx, s, command, timeout)
}

// ReadFile proxies a file read into the owned session.
func (g *Gateway) ReadFile(ctx context.Context, s *Session, path string) (string, error) {
	return g.runtime.ReadFile(ctx, s, path)
}

// WriteFile proxies a file write into the owned session.
func (g *Gateway) WriteFile(ctx context.Context, s *Session, path, content string) error {
	return g.runtime.WriteFile(ctx, s, path, content)
}

// Destroy releases the session. Best-effort: failures are logged, never
// returned, since teardown runs on every exit path.
func (g *Gateway) Destroy(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	g.logger.Info("destroying sandbox", zap.String("session_id", s.ID))
	if err := g.runtime.Destroy(ctx, s); err != nil {
		g.logger.Warn("failed to destroy sandbox", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// cloneFailureDetail maps common git clone failures onto actionable messages.
func cloneFailureDetail(repoURL string, res ExecResult) string {
	out := strings.TrimSpace(res.Stdout + res.Stderr)
	if out == "" {
		return fmt.Sprintf("git clone failed with exit code %d, no error output captured", res.ExitCode)
	}

	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist"):
		if repoPart := repoPathFromURL(repoURL); repoPart != "" {
			return fmt.Sprintf("repository %q not found; fork the original repository first, then try again", repoPart)
		}
		return out
	case strings.Contains(out, "Authentication failed") || strings.Contains(out, "could not read Username"):
		return "GitHub authentication failed; check that your token has 'repo' scope"
	default:
		return out
	}
}

func repoPathFromURL(repoURL string) string {
	_, after, ok := strings.Cut(repoURL, "github.com/")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSuffix(after, "/"), ".git")
}
